package sale

import (
	"math/big"
)

// TimelineID names one of the two mutually exclusive sale processes.
type TimelineID uint8

const (
	// TimelineMain is the owner-started primary sale window.
	TimelineMain TimelineID = iota + 1
	// TimelineEscrow is the permissionless window that opens once the
	// configured launch time has passed.
	TimelineEscrow
)

// Valid reports whether the identifier names a known timeline.
func (t TimelineID) Valid() bool {
	return t == TimelineMain || t == TimelineEscrow
}

func (t TimelineID) String() string {
	switch t {
	case TimelineMain:
		return "main"
	case TimelineEscrow:
		return "escrow"
	default:
		return "unknown"
	}
}

// Mode is the currently open timeline as derived from the clock. It is never
// cached across calls; every purchase re-derives it.
type Mode uint8

const (
	ModeNone Mode = iota
	ModeMain
	ModeEscrow
)

func (m Mode) String() string {
	switch m {
	case ModeMain:
		return "main"
	case ModeEscrow:
		return "escrow"
	default:
		return "none"
	}
}

// Timeline returns the timeline identifier for an open mode.
func (m Mode) Timeline() TimelineID {
	switch m {
	case ModeMain:
		return TimelineMain
	case ModeEscrow:
		return TimelineEscrow
	default:
		return 0
	}
}

// Round IDs supported by the engine.
const (
	RoundOne uint8 = 1
	RoundTwo uint8 = 2
)

// Round is one pricing/allocation tier. UnitsPerUSD expresses the price as
// sale-token base units per whole USD; Capacity and Sold are sale-token base
// units. Duration bounds how long the round stays active once it becomes the
// current tier (zero disables the time-based transition).
type Round struct {
	ID          uint8
	UnitsPerUSD *big.Int
	Capacity    *big.Int
	Sold        *big.Int
	Duration    int64
	ActivatedAt int64
}

// Clone returns a deep copy of the round.
func (r *Round) Clone() *Round {
	if r == nil {
		return nil
	}
	clone := *r
	clone.UnitsPerUSD = cloneBigInt(r.UnitsPerUSD)
	clone.Capacity = cloneBigInt(r.Capacity)
	clone.Sold = cloneBigInt(r.Sold)
	return &clone
}

// Remaining returns the unsold capacity of the round.
func (r *Round) Remaining() *big.Int {
	if r == nil || r.Capacity == nil {
		return big.NewInt(0)
	}
	remaining := new(big.Int).Sub(r.Capacity, cloneBigInt(r.Sold))
	if remaining.Sign() < 0 {
		return big.NewInt(0)
	}
	return remaining
}

// Timeline captures one sale process. A timeline is open when it has started,
// has not been explicitly ended or cancelled, and the clock has not passed its
// end time. Once started it can never be restarted.
type Timeline struct {
	ID          TimelineID
	Started     bool
	StartTime   int64
	EndTime     int64
	Ended       bool
	Cancelled   bool
	ActiveRound uint8
}

// Open reports whether the timeline accepts purchases at the supplied instant.
func (t *Timeline) Open(now int64) bool {
	if t == nil {
		return false
	}
	return t.Started && !t.Ended && now < t.EndTime
}

// Clone returns a copy of the timeline.
func (t *Timeline) Clone() *Timeline {
	if t == nil {
		return nil
	}
	clone := *t
	return &clone
}

// TokenPaid tracks the cumulative nominal amount a buyer paid in one payment
// token, retained so a cancelled sale can refund the original medium.
type TokenPaid struct {
	Token  string
	Amount *big.Int
}

// UserPurchaseRecord is a buyer's accumulated position across both timelines.
type UserPurchaseRecord struct {
	Buyer      [20]byte
	TotalUnits *big.Int
	TotalUSD   *big.Int
	NativePaid *big.Int
	TokenPaid  []TokenPaid
	Referrer   [20]byte
	Timeline   TimelineID
	Claimed    bool
	Refunded   bool
}

// Clone returns a deep copy of the record.
func (u *UserPurchaseRecord) Clone() *UserPurchaseRecord {
	if u == nil {
		return nil
	}
	clone := *u
	clone.TotalUnits = cloneBigInt(u.TotalUnits)
	clone.TotalUSD = cloneBigInt(u.TotalUSD)
	clone.NativePaid = cloneBigInt(u.NativePaid)
	clone.TokenPaid = make([]TokenPaid, len(u.TokenPaid))
	for i, paid := range u.TokenPaid {
		clone.TokenPaid[i] = TokenPaid{Token: paid.Token, Amount: cloneBigInt(paid.Amount)}
	}
	return &clone
}

func (u *UserPurchaseRecord) addTokenPaid(token string, amount *big.Int) {
	for i, paid := range u.TokenPaid {
		if paid.Token == token {
			u.TokenPaid[i].Amount = new(big.Int).Add(cloneBigInt(paid.Amount), amount)
			return
		}
	}
	u.TokenPaid = append(u.TokenPaid, TokenPaid{Token: token, Amount: new(big.Int).Set(amount)})
}

// ReferralRecord accumulates the bonus ledger for one referrer. Bonus units
// are claimable by the referrer, never by the referred buyers.
type ReferralRecord struct {
	Referrer   [20]byte
	BonusUnits *big.Int
	BonusBps   uint32
	Purchases  uint64
	Claimed    bool
}

// Clone returns a deep copy of the record.
func (r *ReferralRecord) Clone() *ReferralRecord {
	if r == nil {
		return nil
	}
	clone := *r
	clone.BonusUnits = cloneBigInt(r.BonusUnits)
	return &clone
}

// WhitelistEntry overrides the global per-user USD limit for one buyer.
type WhitelistEntry struct {
	Buyer         [20]byte
	AllocationUSD *big.Int
}

// Totals aggregates sale-wide counters.
type Totals struct {
	UnitsSold  *big.Int
	BonusUnits *big.Int
	USDRaised  *big.Int
}

// Clone returns a deep copy of the totals.
func (t *Totals) Clone() *Totals {
	if t == nil {
		return nil
	}
	return &Totals{
		UnitsSold:  cloneBigInt(t.UnitsSold),
		BonusUnits: cloneBigInt(t.BonusUnits),
		USDRaised:  cloneBigInt(t.USDRaised),
	}
}

// Status carries the operational switches that sit outside any one timeline.
type Status struct {
	Paused        bool
	ClaimsEnabled bool
	Finalized     bool
	Cancelled     bool
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
