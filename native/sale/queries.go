package sale

import (
	"math/big"

	"crowdsale/native/pricing"
)

const progressScaleBps = 10_000

// RoundInfo returns a copy of the requested round configuration.
func (e *Engine) RoundInfo(id uint8) (*Round, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	round, ok, err := e.loadRound(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRoundNotConfigured
	}
	return round.Clone(), nil
}

// UserInfo returns a copy of the buyer's purchase record. Buyers with no
// history get a zeroed record rather than an error.
func (e *Engine) UserInfo(addr [20]byte) (*UserPurchaseRecord, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	record, err := e.loadUser(addr)
	if err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

// ReferralInfo returns a copy of the referrer's bonus ledger.
func (e *Engine) ReferralInfo(addr [20]byte) (*ReferralRecord, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	record, err := e.loadReferral(addr)
	if err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

// RemainingAllocation returns how much USD value the buyer can still spend
// before hitting their applicable limit.
func (e *Engine) RemainingAllocation(addr [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	params, err := e.loadParams()
	if err != nil {
		return nil, err
	}
	limit, err := e.applicableLimit(params, addr)
	if err != nil {
		return nil, err
	}
	record, err := e.loadUser(addr)
	if err != nil {
		return nil, err
	}
	remaining := new(big.Int).Sub(limit, record.TotalUSD)
	if remaining.Sign() < 0 {
		remaining.SetInt64(0)
	}
	return remaining, nil
}

// WhitelistStatus reports whether the buyer is whitelisted and their custom
// allocation, if any.
func (e *Engine) WhitelistStatus(addr [20]byte) (bool, *big.Int, error) {
	if e == nil || e.state == nil {
		return false, nil, ErrNilState
	}
	entry, ok, err := e.loadWhitelist(addr)
	if err != nil {
		return false, nil, err
	}
	if !ok {
		return false, nil, nil
	}
	return true, cloneBigInt(entry.AllocationUSD), nil
}

// RoundProgressBps returns the round's sell-through in basis points of its
// capacity.
func (e *Engine) RoundProgressBps(id uint8) (uint32, error) {
	round, err := e.RoundInfo(id)
	if err != nil {
		return 0, err
	}
	return progressBps(round.Sold, round.Capacity), nil
}

// OverallProgressBps returns total units sold as basis points of the combined
// capacity of both rounds.
func (e *Engine) OverallProgressBps() (uint32, error) {
	if e == nil || e.state == nil {
		return 0, ErrNilState
	}
	capacity := big.NewInt(0)
	sold := big.NewInt(0)
	for _, id := range []uint8{RoundOne, RoundTwo} {
		round, ok, err := e.loadRound(id)
		if err != nil {
			return 0, err
		}
		if ok {
			capacity.Add(capacity, round.Capacity)
			sold.Add(sold, round.Sold)
		}
	}
	return progressBps(sold, capacity), nil
}

func progressBps(sold, capacity *big.Int) uint32 {
	if sold == nil || capacity == nil || capacity.Sign() <= 0 {
		return 0
	}
	bps := new(big.Int).Mul(sold, big.NewInt(progressScaleBps))
	bps.Quo(bps, capacity)
	if bps.Cmp(big.NewInt(progressScaleBps)) > 0 {
		return progressScaleBps
	}
	return uint32(bps.Uint64())
}

// TimeRemaining returns seconds until the open timeline ends, or zero when no
// timeline is open.
func (e *Engine) TimeRemaining() (int64, error) {
	if e == nil || e.state == nil {
		return 0, ErrNilState
	}
	now := e.now()
	for _, id := range []TimelineID{TimelineMain, TimelineEscrow} {
		timeline, err := e.loadTimeline(id)
		if err != nil {
			return 0, err
		}
		if timeline.Open(now) {
			return timeline.EndTime - now, nil
		}
	}
	return 0, nil
}

// TimelineInfo returns a copy of one timeline's state.
func (e *Engine) TimelineInfo(id TimelineID) (*Timeline, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	timeline, err := e.loadTimeline(id)
	if err != nil {
		return nil, err
	}
	return timeline.Clone(), nil
}

// TimelinesStatus returns copies of both timelines plus the engine status in
// one shot.
func (e *Engine) TimelinesStatus() (*Timeline, *Timeline, Status, error) {
	if e == nil || e.state == nil {
		return nil, nil, Status{}, ErrNilState
	}
	main, err := e.loadTimeline(TimelineMain)
	if err != nil {
		return nil, nil, Status{}, err
	}
	escrow, err := e.loadTimeline(TimelineEscrow)
	if err != nil {
		return nil, nil, Status{}, err
	}
	status, err := e.loadStatus()
	if err != nil {
		return nil, nil, Status{}, err
	}
	return main.Clone(), escrow.Clone(), status, nil
}

// TotalsInfo returns the running global counters.
func (e *Engine) TotalsInfo() (*Totals, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	totals, err := e.loadTotals()
	if err != nil {
		return nil, err
	}
	return totals.Clone(), nil
}

// StatusInfo returns the engine status flags.
func (e *Engine) StatusInfo() (Status, error) {
	if e == nil || e.state == nil {
		return Status{}, ErrNilState
	}
	return e.loadStatus()
}

// ClaimableAmount returns what a successful ClaimTokens call would pay the
// address right now, without checking claim gating.
func (e *Engine) ClaimableAmount(addr [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	record, err := e.loadUser(addr)
	if err != nil {
		return nil, err
	}
	if record.Claimed || record.Refunded {
		return big.NewInt(0), nil
	}
	claimable := new(big.Int).Set(record.TotalUnits)
	referral, err := e.loadReferral(addr)
	if err != nil {
		return nil, err
	}
	if !referral.Claimed {
		claimable.Add(claimable, referral.BonusUnits)
	}
	return claimable, nil
}

// SoldOut reports whether every configured round has exhausted its capacity.
func (e *Engine) SoldOut() (bool, error) {
	if e == nil || e.state == nil {
		return false, ErrNilState
	}
	configured := false
	for _, id := range []uint8{RoundOne, RoundTwo} {
		round, ok, err := e.loadRound(id)
		if err != nil {
			return false, err
		}
		if !ok {
			continue
		}
		configured = true
		if round.Remaining().Sign() > 0 {
			return false, nil
		}
	}
	return configured, nil
}

// Quote converts a payment amount into USD value and sale-token units at the
// given round's price without touching any state counters.
func (e *Engine) Quote(roundID uint8, method pricing.Method, amount *big.Int) (*big.Int, *big.Int, error) {
	if e == nil || e.state == nil {
		return nil, nil, ErrNilState
	}
	if e.pricing == nil {
		return nil, nil, ErrNilState
	}
	round, ok, err := e.loadRound(roundID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrRoundNotConfigured
	}
	return e.pricing.Convert(method, amount, round.UnitsPerUSD)
}

// QuoteActive is Quote against whichever round is currently selling.
func (e *Engine) QuoteActive(method pricing.Method, amount *big.Int) (*big.Int, *big.Int, error) {
	timeline, err := e.openTimeline()
	if err != nil {
		return nil, nil, err
	}
	if err := e.maybeTransitionRound(timeline); err != nil {
		return nil, nil, err
	}
	return e.Quote(timeline.ActiveRound, method, amount)
}
