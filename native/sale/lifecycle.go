package sale

import (
	"fmt"
	"math/big"
)

// Round transition reasons reported in events.
const (
	transitionReasonCapacity = "capacity"
	transitionReasonTime     = "time"
	transitionReasonAdmin    = "admin"
)

// StartMain opens the main timeline for the supplied duration. Only the owner
// may start it, and only while the escrow timeline is not open.
func (e *Engine) StartMain(caller [20]byte, duration int64) error {
	if _, err := e.requireOwner(caller); err != nil {
		return err
	}
	if duration <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalidParams)
	}
	return e.startTimeline(TimelineMain, duration)
}

// StartEscrow opens the escrow timeline. Anyone may call it once the
// configured launch time has passed.
func (e *Engine) StartEscrow() error {
	params, err := e.loadParams()
	if err != nil {
		return err
	}
	if params.EscrowLaunchTime == 0 {
		return fmt.Errorf("%w: escrow launch not configured", ErrInvalidState)
	}
	if e.now() < params.EscrowLaunchTime {
		return ErrLaunchNotReached
	}
	return e.startTimeline(TimelineEscrow, params.EscrowDuration)
}

func (e *Engine) startTimeline(id TimelineID, duration int64) error {
	if err := e.guard(); err != nil {
		return err
	}
	status, err := e.loadStatus()
	if err != nil {
		return err
	}
	if status.Cancelled || status.Finalized {
		return ErrInvalidState
	}
	for _, roundID := range []uint8{RoundOne, RoundTwo} {
		if _, ok, err := e.loadRound(roundID); err != nil {
			return err
		} else if !ok {
			return ErrRoundNotConfigured
		}
	}
	timeline, err := e.loadTimeline(id)
	if err != nil {
		return err
	}
	if timeline.Started {
		return ErrAlreadyStarted
	}
	mode, err := e.ActiveMode()
	if err != nil {
		return err
	}
	if mode != ModeNone {
		return ErrInvalidState
	}
	now := e.now()
	timeline.Started = true
	timeline.StartTime = now
	timeline.EndTime = now + duration
	timeline.ActiveRound = RoundOne
	if err := e.storeTimeline(timeline); err != nil {
		return err
	}
	round, _, err := e.loadRound(RoundOne)
	if err != nil {
		return err
	}
	round.ActivatedAt = now
	if err := e.storeRound(round); err != nil {
		return err
	}
	e.emitTimelineStarted(timeline)
	return nil
}

// openTimeline returns the currently open timeline, or ErrPresaleNotStarted.
func (e *Engine) openTimeline() (*Timeline, error) {
	mode, err := e.ActiveMode()
	if err != nil {
		return nil, err
	}
	if mode == ModeNone {
		return nil, ErrPresaleNotStarted
	}
	return e.loadTimeline(mode.Timeline())
}

// maybeTransitionRound applies the lazy round-1 to round-2 transition when
// either the capacity or the duration condition holds. Capacity is evaluated
// first; when both fire in the same call the transition runs once and reports
// the capacity reason.
func (e *Engine) maybeTransitionRound(timeline *Timeline) error {
	if timeline == nil || timeline.ActiveRound != RoundOne {
		return nil
	}
	round, ok, err := e.loadRound(RoundOne)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRoundNotConfigured
	}
	now := e.now()
	reason := ""
	switch {
	case round.Sold != nil && round.Capacity != nil && round.Sold.Cmp(round.Capacity) >= 0:
		reason = transitionReasonCapacity
	case round.Duration > 0 && now >= round.ActivatedAt+round.Duration:
		reason = transitionReasonTime
	default:
		return nil
	}
	return e.transitionToRoundTwo(timeline, reason)
}

func (e *Engine) transitionToRoundTwo(timeline *Timeline, reason string) error {
	round2, ok, err := e.loadRound(RoundTwo)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRoundNotConfigured
	}
	timeline.ActiveRound = RoundTwo
	if err := e.storeTimeline(timeline); err != nil {
		return err
	}
	round2.ActivatedAt = e.now()
	if err := e.storeRound(round2); err != nil {
		return err
	}
	e.emitRoundTransition(timeline, reason)
	return nil
}

// ForceRoundTransition moves an open timeline from round 1 to round 2 without
// waiting for the lazy check. Owner only.
func (e *Engine) ForceRoundTransition(caller [20]byte) error {
	if _, err := e.requireOwner(caller); err != nil {
		return err
	}
	timeline, err := e.openTimeline()
	if err != nil {
		return err
	}
	if timeline.ActiveRound != RoundOne {
		return ErrInvalidState
	}
	return e.transitionToRoundTwo(timeline, transitionReasonAdmin)
}

// Finalize closes the sale after a timeline has ended: the unsold remainder of
// the combined round capacity is minted to the unsold-token recipient. Claims
// are enabled separately through EnableClaims so an operational misstep here
// stays recoverable.
func (e *Engine) Finalize(caller [20]byte) error {
	params, err := e.requireOwner(caller)
	if err != nil {
		return err
	}
	status, err := e.loadStatus()
	if err != nil {
		return err
	}
	if status.Finalized {
		return ErrAlreadyFinalized
	}
	if status.Cancelled {
		return ErrCancelled
	}
	started, err := e.anyTimelineStarted()
	if err != nil {
		return err
	}
	if !started {
		return ErrTimelineNotEnded
	}
	mode, err := e.ActiveMode()
	if err != nil {
		return err
	}
	if mode != ModeNone {
		return ErrTimelineNotEnded
	}
	totals, err := e.loadTotals()
	if err != nil {
		return err
	}
	capacity := big.NewInt(0)
	for _, roundID := range []uint8{RoundOne, RoundTwo} {
		round, ok, err := e.loadRound(roundID)
		if err != nil {
			return err
		}
		if ok && round.Capacity != nil {
			capacity.Add(capacity, round.Capacity)
		}
	}
	claimable := new(big.Int).Add(totals.UnitsSold, totals.BonusUnits)
	unsold := new(big.Int).Sub(capacity, claimable)
	if unsold.Sign() < 0 {
		unsold.SetInt64(0)
	}
	// Mark ended before the outward mint.
	for _, id := range []TimelineID{TimelineMain, TimelineEscrow} {
		timeline, err := e.loadTimeline(id)
		if err != nil {
			return err
		}
		if timeline.Started && !timeline.Ended {
			timeline.Ended = true
			if err := e.storeTimeline(timeline); err != nil {
				return err
			}
		}
	}
	status.Finalized = true
	if err := e.storeStatus(status); err != nil {
		return err
	}
	if unsold.Sign() > 0 {
		recipient := params.UnsoldRecipient
		if recipient == ([20]byte{}) {
			recipient = params.Treasury
		}
		if e.saleToken == nil {
			return fmt.Errorf("sale: sale token not configured")
		}
		if err := e.saleToken.Mint(recipient, unsold); err != nil {
			return err
		}
	}
	e.emitFinalized(totals, unsold)
	return nil
}

// EnableClaims unlocks the claim path. Claims additionally require that no
// timeline is open at claim time.
func (e *Engine) EnableClaims(caller [20]byte) error {
	if _, err := e.requireOwner(caller); err != nil {
		return err
	}
	status, err := e.loadStatus()
	if err != nil {
		return err
	}
	if status.Cancelled {
		return ErrCancelled
	}
	status.ClaimsEnabled = true
	return e.storeStatus(status)
}

// Cancel aborts an active sale. Buyers recover their payments through
// EmergencyRefund; claims are permanently blocked.
func (e *Engine) Cancel(caller [20]byte) error {
	if _, err := e.requireOwner(caller); err != nil {
		return err
	}
	status, err := e.loadStatus()
	if err != nil {
		return err
	}
	if status.Finalized {
		return ErrAlreadyFinalized
	}
	if status.Cancelled {
		return ErrInvalidState
	}
	timeline, err := e.openTimeline()
	if err != nil {
		return err
	}
	timeline.Ended = true
	timeline.Cancelled = true
	if err := e.storeTimeline(timeline); err != nil {
		return err
	}
	status.Cancelled = true
	if err := e.storeStatus(status); err != nil {
		return err
	}
	e.emitCancelled(timeline)
	return nil
}
