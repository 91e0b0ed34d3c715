package sale

import (
	"errors"
	"math/big"
	"testing"
)

func TestStartMainRequiresConfiguredRounds(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.StartMain(f.owner, 3_600); !errors.Is(err, ErrRoundNotConfigured) {
		t.Fatalf("expected ErrRoundNotConfigured, got %v", err)
	}
}

func TestStartMainOpensRoundOne(t *testing.T) {
	f := newFixture(t)
	f.configureRounds(t)
	f.startMain(t, 3_600)

	mode, err := f.engine.ActiveMode()
	if err != nil {
		t.Fatalf("active mode: %v", err)
	}
	if mode != ModeMain {
		t.Fatalf("expected main mode, got %v", mode)
	}
	timeline, err := f.engine.TimelineInfo(TimelineMain)
	if err != nil {
		t.Fatalf("timeline info: %v", err)
	}
	if !timeline.Started || timeline.ActiveRound != RoundOne {
		t.Fatalf("unexpected timeline state: %+v", timeline)
	}
	if timeline.EndTime != testStartTime+3_600 {
		t.Fatalf("expected end time %d, got %d", testStartTime+3_600, timeline.EndTime)
	}
	if f.emitter.count(TypeTimelineStarted) != 1 {
		t.Fatal("expected timeline started event")
	}
}

func TestStartMainTwiceFails(t *testing.T) {
	f := newFixture(t)
	f.configureRounds(t)
	f.startMain(t, 3_600)
	if err := f.engine.StartMain(f.owner, 3_600); err == nil {
		t.Fatal("expected second start to fail")
	}
}

func TestStartEscrowBeforeLaunchFails(t *testing.T) {
	f := newFixture(t)
	f.configureRounds(t)
	if err := f.engine.StartEscrow(); !errors.Is(err, ErrLaunchNotReached) {
		t.Fatalf("expected ErrLaunchNotReached, got %v", err)
	}
}

func TestStartEscrowAfterLaunchIsPermissionless(t *testing.T) {
	f := newFixture(t)
	f.configureRounds(t)
	f.clock.now = testEscrowStart + 1
	if err := f.engine.StartEscrow(); err != nil {
		t.Fatalf("start escrow: %v", err)
	}
	mode, err := f.engine.ActiveMode()
	if err != nil {
		t.Fatalf("active mode: %v", err)
	}
	if mode != ModeEscrow {
		t.Fatalf("expected escrow mode, got %v", mode)
	}
	timeline, err := f.engine.TimelineInfo(TimelineEscrow)
	if err != nil {
		t.Fatalf("timeline info: %v", err)
	}
	if timeline.EndTime != f.clock.now+testEscrowSpan {
		t.Fatalf("unexpected escrow end %d", timeline.EndTime)
	}
}

func TestAtMostOneTimelineOpen(t *testing.T) {
	f := newFixture(t)
	f.configureRounds(t)
	f.clock.now = testEscrowStart + 1
	f.startMain(t, 3_600)
	if err := f.engine.StartEscrow(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState while main is open, got %v", err)
	}
	// Once main lapses by time alone, escrow may start.
	f.clock.Advance(3_601)
	if err := f.engine.StartEscrow(); err != nil {
		t.Fatalf("start escrow after main lapsed: %v", err)
	}
}

func TestModeFlipsByClockWithoutWrites(t *testing.T) {
	f := newFixture(t)
	f.configureRounds(t)
	f.startMain(t, 3_600)
	f.clock.Advance(3_600)
	mode, err := f.engine.ActiveMode()
	if err != nil {
		t.Fatalf("active mode: %v", err)
	}
	if mode != ModeNone {
		t.Fatalf("expected mode none at end time, got %v", mode)
	}
}

func TestRoundTransitionByCapacity(t *testing.T) {
	f := newFixture(t)
	f.configureRounds(t)
	f.startMain(t, 3_600)
	buyer := addr(0x01)
	f.usdt.credit(buyer, big.NewInt(1_000_000_000)) // 1,000 USDT

	// 500 USD at 10 units/USD leaves exactly half of round 1.
	if _, err := f.engine.BuyWithToken(buyer, "USDT", big.NewInt(500_000_000)); err != nil {
		t.Fatalf("first purchase: %v", err)
	}
	round, err := f.engine.RoundInfo(RoundOne)
	if err != nil {
		t.Fatalf("round info: %v", err)
	}
	if round.Sold.Cmp(units(5_000)) != 0 {
		t.Fatalf("expected 5000 units sold, got %s", round.Sold)
	}
	// Fill the remainder; the next purchase must land in round 2 at the
	// lower rate.
	if _, err := f.engine.BuyWithToken(buyer, "USDT", big.NewInt(500_000_000)); err != nil {
		t.Fatalf("second purchase: %v", err)
	}
	second := addr(0x02)
	f.usdt.credit(second, big.NewInt(100_000_000))
	receipt, err := f.engine.BuyWithToken(second, "USDT", big.NewInt(100_000_000))
	if err != nil {
		t.Fatalf("round 2 purchase: %v", err)
	}
	if receipt.Round != RoundTwo {
		t.Fatalf("expected round 2, got %d", receipt.Round)
	}
	if receipt.Units.Cmp(units(500)) != 0 {
		t.Fatalf("expected 500 units at round 2 rate, got %s", receipt.Units)
	}
	if f.emitter.count(TypeRoundTransition) != 1 {
		t.Fatalf("expected one transition event, got %d", f.emitter.count(TypeRoundTransition))
	}
}

func TestRoundTransitionByTime(t *testing.T) {
	f := newFixture(t)
	f.configureRounds(t)
	f.startMain(t, 7_200)
	buyer := addr(0x01)
	f.usdt.credit(buyer, big.NewInt(200_000_000))

	// Round 1 duration is one hour; past it the lazy check flips rounds.
	f.clock.Advance(3_600)
	receipt, err := f.engine.BuyWithToken(buyer, "USDT", big.NewInt(100_000_000))
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if receipt.Round != RoundTwo {
		t.Fatalf("expected round 2 after duration, got %d", receipt.Round)
	}
}

func TestForceRoundTransition(t *testing.T) {
	f := newFixture(t)
	f.configureRounds(t)
	f.startMain(t, 3_600)
	if err := f.engine.ForceRoundTransition(f.owner); err != nil {
		t.Fatalf("force transition: %v", err)
	}
	timeline, err := f.engine.TimelineInfo(TimelineMain)
	if err != nil {
		t.Fatalf("timeline info: %v", err)
	}
	if timeline.ActiveRound != RoundTwo {
		t.Fatalf("expected round 2, got %d", timeline.ActiveRound)
	}
	if err := f.engine.ForceRoundTransition(f.owner); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on second force, got %v", err)
	}
}

func TestFinalizeMintsUnsoldRemainder(t *testing.T) {
	f := newFixture(t)
	f.configureRounds(t)
	f.startMain(t, 3_600)
	buyer := addr(0x01)
	f.usdt.credit(buyer, big.NewInt(100_000_000))
	if _, err := f.engine.BuyWithToken(buyer, "USDT", big.NewInt(100_000_000)); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if err := f.engine.Finalize(f.owner); !errors.Is(err, ErrTimelineNotEnded) {
		t.Fatalf("expected ErrTimelineNotEnded while open, got %v", err)
	}
	f.clock.Advance(4_000)
	if err := f.engine.Finalize(f.owner); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	// 110,000 total capacity minus 1,000 sold.
	want := units(109_000)
	if got := f.saleToken.balance(f.unsold); got.Cmp(want) != 0 {
		t.Fatalf("expected unsold mint %s, got %s", want, got)
	}
	if err := f.engine.Finalize(f.owner); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized, got %v", err)
	}
}

func TestFinalizeAccountsForReferralBonus(t *testing.T) {
	f := newFixture(t)
	f.configureRounds(t)
	f.startMain(t, 3_600)
	buyer, referrer := addr(0x01), addr(0x02)
	f.usdt.credit(buyer, big.NewInt(100_000_000))
	if _, err := f.engine.BuyWithTokenReferral(buyer, "USDT", big.NewInt(100_000_000), referrer); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	f.clock.Advance(4_000)
	if err := f.engine.Finalize(f.owner); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	// 1,000 sold plus 50 bonus are both claimable and excluded from the
	// unsold remainder.
	want := units(108_950)
	if got := f.saleToken.balance(f.unsold); got.Cmp(want) != 0 {
		t.Fatalf("expected unsold mint %s, got %s", want, got)
	}
}

func TestCancelRequiresOpenTimeline(t *testing.T) {
	f := newFixture(t)
	f.configureRounds(t)
	if err := f.engine.Cancel(f.owner); !errors.Is(err, ErrPresaleNotStarted) {
		t.Fatalf("expected ErrPresaleNotStarted, got %v", err)
	}
}

func TestCancelBlocksFinalizeAndClaims(t *testing.T) {
	f := newFixture(t)
	f.configureRounds(t)
	f.startMain(t, 3_600)
	if err := f.engine.Cancel(f.owner); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := f.engine.Finalize(f.owner); !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled on finalize, got %v", err)
	}
	if err := f.engine.EnableClaims(f.owner); !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled on enable claims, got %v", err)
	}
	mode, err := f.engine.ActiveMode()
	if err != nil {
		t.Fatalf("active mode: %v", err)
	}
	if mode != ModeNone {
		t.Fatalf("expected mode none after cancel, got %v", mode)
	}
}
