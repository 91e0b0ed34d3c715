package sale

import (
	"fmt"
	"math"
	"math/big"
	"strings"
)

// Storage abstracts the subset of state manager functionality required by the
// sale engine.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out *[][]byte) error
}

type storedParams struct {
	Owner            [20]byte
	Treasury         [20]byte
	UnsoldRecipient  [20]byte
	MinPurchaseUSD   string
	MaxPurchaseUSD   string
	GasBuffer        string
	ReferralEnabled  bool
	ReferralBps      uint32
	WhitelistEnabled bool
	KYCRequired      bool
	VoucherEnabled   bool
	EscrowLaunchTime uint64
	EscrowDuration   uint64
}

type storedStatus struct {
	Paused        bool
	ClaimsEnabled bool
	Finalized     bool
	Cancelled     bool
}

type storedTotals struct {
	UnitsSold  string
	BonusUnits string
	USDRaised  string
}

type storedTimeline struct {
	ID          uint8
	Started     bool
	StartTime   uint64
	EndTime     uint64
	Ended       bool
	Cancelled   bool
	ActiveRound uint8
}

type storedRound struct {
	ID          uint8
	UnitsPerUSD string
	Capacity    string
	Sold        string
	Duration    uint64
	ActivatedAt uint64
}

type storedTokenPaid struct {
	Token  string
	Amount string
}

type storedUser struct {
	Buyer      [20]byte
	TotalUnits string
	TotalUSD   string
	NativePaid string
	TokenPaid  []storedTokenPaid
	Referrer   [20]byte
	Timeline   uint8
	Claimed    bool
	Refunded   bool
}

type storedReferral struct {
	Referrer   [20]byte
	BonusUnits string
	BonusBps   uint32
	Purchases  uint64
	Claimed    bool
}

type storedWhitelist struct {
	Buyer         [20]byte
	AllocationUSD string
}

func bigToString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func stringToBig(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("sale: invalid stored amount %q", raw)
	}
	return v, nil
}

func int64ToUint64(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}

func uint64ToInt64(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("sale: value %d exceeds int64 range", v)
	}
	return int64(v), nil
}

func (e *Engine) loadParams() (Params, error) {
	if e == nil || e.state == nil {
		return Params{}, ErrNilState
	}
	var stored storedParams
	ok, err := e.state.KVGet(paramsKey, &stored)
	if err != nil {
		return Params{}, err
	}
	if !ok {
		return Params{}, fmt.Errorf("sale: params not initialised")
	}
	minUSD, err := stringToBig(stored.MinPurchaseUSD)
	if err != nil {
		return Params{}, err
	}
	maxUSD, err := stringToBig(stored.MaxPurchaseUSD)
	if err != nil {
		return Params{}, err
	}
	buffer, err := stringToBig(stored.GasBuffer)
	if err != nil {
		return Params{}, err
	}
	launch, err := uint64ToInt64(stored.EscrowLaunchTime)
	if err != nil {
		return Params{}, err
	}
	duration, err := uint64ToInt64(stored.EscrowDuration)
	if err != nil {
		return Params{}, err
	}
	return Params{
		Owner:            stored.Owner,
		Treasury:         stored.Treasury,
		UnsoldRecipient:  stored.UnsoldRecipient,
		MinPurchaseUSD:   minUSD,
		MaxPurchaseUSD:   maxUSD,
		GasBuffer:        buffer,
		ReferralEnabled:  stored.ReferralEnabled,
		ReferralBps:      stored.ReferralBps,
		WhitelistEnabled: stored.WhitelistEnabled,
		KYCRequired:      stored.KYCRequired,
		VoucherEnabled:   stored.VoucherEnabled,
		EscrowLaunchTime: launch,
		EscrowDuration:   duration,
	}, nil
}

func (e *Engine) storeParams(params Params) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	stored := storedParams{
		Owner:            params.Owner,
		Treasury:         params.Treasury,
		UnsoldRecipient:  params.UnsoldRecipient,
		MinPurchaseUSD:   bigToString(params.MinPurchaseUSD),
		MaxPurchaseUSD:   bigToString(params.MaxPurchaseUSD),
		GasBuffer:        bigToString(params.GasBuffer),
		ReferralEnabled:  params.ReferralEnabled,
		ReferralBps:      params.ReferralBps,
		WhitelistEnabled: params.WhitelistEnabled,
		KYCRequired:      params.KYCRequired,
		VoucherEnabled:   params.VoucherEnabled,
		EscrowLaunchTime: int64ToUint64(params.EscrowLaunchTime),
		EscrowDuration:   int64ToUint64(params.EscrowDuration),
	}
	return e.state.KVPut(paramsKey, stored)
}

func (e *Engine) loadStatus() (Status, error) {
	if e == nil || e.state == nil {
		return Status{}, ErrNilState
	}
	var stored storedStatus
	if _, err := e.state.KVGet(statusKey, &stored); err != nil {
		return Status{}, err
	}
	return Status(stored), nil
}

func (e *Engine) storeStatus(status Status) error {
	return e.state.KVPut(statusKey, storedStatus(status))
}

func (e *Engine) loadTotals() (*Totals, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	var stored storedTotals
	ok, err := e.state.KVGet(totalsKey, &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Totals{UnitsSold: big.NewInt(0), BonusUnits: big.NewInt(0), USDRaised: big.NewInt(0)}, nil
	}
	sold, err := stringToBig(stored.UnitsSold)
	if err != nil {
		return nil, err
	}
	bonus, err := stringToBig(stored.BonusUnits)
	if err != nil {
		return nil, err
	}
	raised, err := stringToBig(stored.USDRaised)
	if err != nil {
		return nil, err
	}
	return &Totals{UnitsSold: sold, BonusUnits: bonus, USDRaised: raised}, nil
}

func (e *Engine) storeTotals(totals *Totals) error {
	if totals == nil {
		return fmt.Errorf("sale: nil totals")
	}
	return e.state.KVPut(totalsKey, storedTotals{
		UnitsSold:  bigToString(totals.UnitsSold),
		BonusUnits: bigToString(totals.BonusUnits),
		USDRaised:  bigToString(totals.USDRaised),
	})
}

func (e *Engine) loadTimeline(id TimelineID) (*Timeline, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	var stored storedTimeline
	ok, err := e.state.KVGet(timelineKey(id), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Timeline{ID: id}, nil
	}
	start, err := uint64ToInt64(stored.StartTime)
	if err != nil {
		return nil, err
	}
	end, err := uint64ToInt64(stored.EndTime)
	if err != nil {
		return nil, err
	}
	return &Timeline{
		ID:          TimelineID(stored.ID),
		Started:     stored.Started,
		StartTime:   start,
		EndTime:     end,
		Ended:       stored.Ended,
		Cancelled:   stored.Cancelled,
		ActiveRound: stored.ActiveRound,
	}, nil
}

func (e *Engine) storeTimeline(t *Timeline) error {
	if t == nil {
		return fmt.Errorf("sale: nil timeline")
	}
	return e.state.KVPut(timelineKey(t.ID), storedTimeline{
		ID:          uint8(t.ID),
		Started:     t.Started,
		StartTime:   int64ToUint64(t.StartTime),
		EndTime:     int64ToUint64(t.EndTime),
		Ended:       t.Ended,
		Cancelled:   t.Cancelled,
		ActiveRound: t.ActiveRound,
	})
}

func (e *Engine) loadRound(id uint8) (*Round, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, ErrNilState
	}
	var stored storedRound
	ok, err := e.state.KVGet(roundKey(id), &stored)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	units, err := stringToBig(stored.UnitsPerUSD)
	if err != nil {
		return nil, false, err
	}
	capacity, err := stringToBig(stored.Capacity)
	if err != nil {
		return nil, false, err
	}
	sold, err := stringToBig(stored.Sold)
	if err != nil {
		return nil, false, err
	}
	duration, err := uint64ToInt64(stored.Duration)
	if err != nil {
		return nil, false, err
	}
	activated, err := uint64ToInt64(stored.ActivatedAt)
	if err != nil {
		return nil, false, err
	}
	return &Round{
		ID:          stored.ID,
		UnitsPerUSD: units,
		Capacity:    capacity,
		Sold:        sold,
		Duration:    duration,
		ActivatedAt: activated,
	}, true, nil
}

func (e *Engine) storeRound(r *Round) error {
	if r == nil {
		return fmt.Errorf("sale: nil round")
	}
	return e.state.KVPut(roundKey(r.ID), storedRound{
		ID:          r.ID,
		UnitsPerUSD: bigToString(r.UnitsPerUSD),
		Capacity:    bigToString(r.Capacity),
		Sold:        bigToString(r.Sold),
		Duration:    int64ToUint64(r.Duration),
		ActivatedAt: int64ToUint64(r.ActivatedAt),
	})
}

func (e *Engine) loadUser(addr [20]byte) (*UserPurchaseRecord, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	var stored storedUser
	ok, err := e.state.KVGet(userKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &UserPurchaseRecord{
			Buyer:      addr,
			TotalUnits: big.NewInt(0),
			TotalUSD:   big.NewInt(0),
			NativePaid: big.NewInt(0),
		}, nil
	}
	units, err := stringToBig(stored.TotalUnits)
	if err != nil {
		return nil, err
	}
	usd, err := stringToBig(stored.TotalUSD)
	if err != nil {
		return nil, err
	}
	native, err := stringToBig(stored.NativePaid)
	if err != nil {
		return nil, err
	}
	record := &UserPurchaseRecord{
		Buyer:      stored.Buyer,
		TotalUnits: units,
		TotalUSD:   usd,
		NativePaid: native,
		Referrer:   stored.Referrer,
		Timeline:   TimelineID(stored.Timeline),
		Claimed:    stored.Claimed,
		Refunded:   stored.Refunded,
	}
	for _, paid := range stored.TokenPaid {
		amount, err := stringToBig(paid.Amount)
		if err != nil {
			return nil, err
		}
		record.TokenPaid = append(record.TokenPaid, TokenPaid{Token: paid.Token, Amount: amount})
	}
	return record, nil
}

func (e *Engine) storeUser(record *UserPurchaseRecord) error {
	if record == nil {
		return fmt.Errorf("sale: nil user record")
	}
	stored := storedUser{
		Buyer:      record.Buyer,
		TotalUnits: bigToString(record.TotalUnits),
		TotalUSD:   bigToString(record.TotalUSD),
		NativePaid: bigToString(record.NativePaid),
		Referrer:   record.Referrer,
		Timeline:   uint8(record.Timeline),
		Claimed:    record.Claimed,
		Refunded:   record.Refunded,
	}
	for _, paid := range record.TokenPaid {
		stored.TokenPaid = append(stored.TokenPaid, storedTokenPaid{Token: paid.Token, Amount: bigToString(paid.Amount)})
	}
	return e.state.KVPut(userKey(record.Buyer), stored)
}

func (e *Engine) loadReferral(addr [20]byte) (*ReferralRecord, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	var stored storedReferral
	ok, err := e.state.KVGet(referralKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &ReferralRecord{Referrer: addr, BonusUnits: big.NewInt(0)}, nil
	}
	bonus, err := stringToBig(stored.BonusUnits)
	if err != nil {
		return nil, err
	}
	return &ReferralRecord{
		Referrer:   stored.Referrer,
		BonusUnits: bonus,
		BonusBps:   stored.BonusBps,
		Purchases:  stored.Purchases,
		Claimed:    stored.Claimed,
	}, nil
}

func (e *Engine) storeReferral(record *ReferralRecord) error {
	if record == nil {
		return fmt.Errorf("sale: nil referral record")
	}
	return e.state.KVPut(referralKey(record.Referrer), storedReferral{
		Referrer:   record.Referrer,
		BonusUnits: bigToString(record.BonusUnits),
		BonusBps:   record.BonusBps,
		Purchases:  record.Purchases,
		Claimed:    record.Claimed,
	})
}

func (e *Engine) loadWhitelist(addr [20]byte) (*WhitelistEntry, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, ErrNilState
	}
	var stored storedWhitelist
	ok, err := e.state.KVGet(whitelistKey(addr), &stored)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	alloc, err := stringToBig(stored.AllocationUSD)
	if err != nil {
		return nil, false, err
	}
	return &WhitelistEntry{Buyer: stored.Buyer, AllocationUSD: alloc}, true, nil
}
