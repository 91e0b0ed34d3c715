package rpc

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"crowdsale/crypto"
	"crowdsale/native/sale"
)

// RoundResult describes one pricing tier for RPC consumers. All token amounts
// are decimal strings of sale-token base units.
type RoundResult struct {
	ID          uint8  `json:"id"`
	UnitsPerUSD string `json:"unitsPerUsd"`
	Capacity    string `json:"capacity"`
	Sold        string `json:"sold"`
	Remaining   string `json:"remaining"`
	Duration    int64  `json:"duration"`
	ActivatedAt int64  `json:"activatedAt,omitempty"`
}

// TimelineResult mirrors a sale timeline with its schedule and active round.
type TimelineResult struct {
	ID          string `json:"id"`
	Started     bool   `json:"started"`
	StartTime   int64  `json:"startTime,omitempty"`
	EndTime     int64  `json:"endTime,omitempty"`
	Ended       bool   `json:"ended"`
	Cancelled   bool   `json:"cancelled"`
	ActiveRound uint8  `json:"activeRound,omitempty"`
}

// TimelinesResult is the combined lifecycle snapshot.
type TimelinesResult struct {
	Main   *TimelineResult `json:"main,omitempty"`
	Escrow *TimelineResult `json:"escrow,omitempty"`
	Mode   string          `json:"mode"`
	Status StatusResult    `json:"status"`
}

// StatusResult reports the global switches of the sale.
type StatusResult struct {
	Paused        bool `json:"paused"`
	ClaimsEnabled bool `json:"claimsEnabled"`
	Finalized     bool `json:"finalized"`
	Cancelled     bool `json:"cancelled"`
}

// UserResult is a buyer's accumulated position.
type UserResult struct {
	Address    string            `json:"address"`
	TotalUnits string            `json:"totalUnits"`
	TotalUSD   string            `json:"totalUsd"`
	NativePaid string            `json:"nativePaid"`
	TokenPaid  []TokenPaidResult `json:"tokenPaid,omitempty"`
	Referrer   string            `json:"referrer,omitempty"`
	Timeline   string            `json:"timeline,omitempty"`
	Claimed    bool              `json:"claimed"`
	Refunded   bool              `json:"refunded"`
}

// TokenPaidResult is one payment-token line of a buyer record.
type TokenPaidResult struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

// ReferralResult is a referrer's bonus ledger.
type ReferralResult struct {
	Address    string `json:"address"`
	BonusUnits string `json:"bonusUnits"`
	BonusBps   uint32 `json:"bonusBps"`
	Purchases  uint64 `json:"purchases"`
	Claimed    bool   `json:"claimed"`
}

// ReceiptResult summarises an executed purchase for RPC consumers.
type ReceiptResult struct {
	Buyer       string `json:"buyer"`
	Beneficiary string `json:"beneficiary"`
	Method      string `json:"method"`
	Paid        string `json:"paid"`
	USDValue    string `json:"usdValue"`
	Units       string `json:"units"`
	BonusUnits  string `json:"bonusUnits,omitempty"`
	Referrer    string `json:"referrer,omitempty"`
	Round       uint8  `json:"round"`
	Timeline    string `json:"timeline"`
	Time        int64  `json:"time"`
}

// TotalsResult aggregates sale-wide counters.
type TotalsResult struct {
	UnitsSold  string `json:"unitsSold"`
	BonusUnits string `json:"bonusUnits"`
	USDRaised  string `json:"usdRaised"`
}

// QuoteResult carries the outcome of a conversion preview.
type QuoteResult struct {
	USDValue string `json:"usdValue"`
	Units    string `json:"units"`
}

// ProgressResult reports capacity consumption in basis points.
type ProgressResult struct {
	Round1Bps  uint32 `json:"round1Bps"`
	Round2Bps  uint32 `json:"round2Bps"`
	OverallBps uint32 `json:"overallBps"`
}

// PurchaseEntryResult is one row of the append-only purchase ledger.
type PurchaseEntryResult struct {
	Buyer       string `json:"buyer"`
	Beneficiary string `json:"beneficiary"`
	Method      string `json:"method"`
	Paid        string `json:"paid"`
	USDValue    string `json:"usdValue"`
	Units       string `json:"units"`
	BonusUnits  string `json:"bonusUnits,omitempty"`
	Referrer    string `json:"referrer,omitempty"`
	Round       uint8  `json:"round"`
	Timeline    string `json:"timeline"`
	Time        int64  `json:"time"`
}

func encodeAddress(addr [20]byte) string {
	return crypto.NewAddress(crypto.CoinPrefix, addr[:]).String()
}

func optionalAddress(addr [20]byte) string {
	if addr == ([20]byte{}) {
		return ""
	}
	return encodeAddress(addr)
}

func parseBech32Address(value string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return out, fmt.Errorf("address required")
	}
	decoded, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return out, fmt.Errorf("invalid address: %w", err)
	}
	copy(out[:], decoded.Bytes())
	return out, nil
}

func parseOptionalAddress(value string) ([20]byte, error) {
	if strings.TrimSpace(value) == "" {
		return [20]byte{}, nil
	}
	return parseBech32Address(value)
}

func parsePositiveBigInt(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	parsed, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if parsed.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return parsed, nil
}

func parseNonNegativeBigInt(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	parsed, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if parsed.Sign() < 0 {
		return nil, fmt.Errorf("amount must be non-negative")
	}
	return parsed, nil
}

func parseHexBytes(value string) ([]byte, error) {
	trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	if trimmed == "" {
		return nil, fmt.Errorf("hex payload required")
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload: %w", err)
	}
	return decoded, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func roundResult(r *sale.Round) *RoundResult {
	if r == nil {
		return nil
	}
	return &RoundResult{
		ID:          r.ID,
		UnitsPerUSD: bigString(r.UnitsPerUSD),
		Capacity:    bigString(r.Capacity),
		Sold:        bigString(r.Sold),
		Remaining:   r.Remaining().String(),
		Duration:    r.Duration,
		ActivatedAt: r.ActivatedAt,
	}
}

func timelineResult(t *sale.Timeline) *TimelineResult {
	if t == nil {
		return nil
	}
	return &TimelineResult{
		ID:          t.ID.String(),
		Started:     t.Started,
		StartTime:   t.StartTime,
		EndTime:     t.EndTime,
		Ended:       t.Ended,
		Cancelled:   t.Cancelled,
		ActiveRound: t.ActiveRound,
	}
}

func statusResult(status sale.Status) StatusResult {
	return StatusResult{
		Paused:        status.Paused,
		ClaimsEnabled: status.ClaimsEnabled,
		Finalized:     status.Finalized,
		Cancelled:     status.Cancelled,
	}
}

func userResult(record *sale.UserPurchaseRecord) *UserResult {
	if record == nil {
		return nil
	}
	paid := make([]TokenPaidResult, 0, len(record.TokenPaid))
	for _, entry := range record.TokenPaid {
		paid = append(paid, TokenPaidResult{Token: entry.Token, Amount: bigString(entry.Amount)})
	}
	timeline := ""
	if record.Timeline.Valid() {
		timeline = record.Timeline.String()
	}
	return &UserResult{
		Address:    encodeAddress(record.Buyer),
		TotalUnits: bigString(record.TotalUnits),
		TotalUSD:   bigString(record.TotalUSD),
		NativePaid: bigString(record.NativePaid),
		TokenPaid:  paid,
		Referrer:   optionalAddress(record.Referrer),
		Timeline:   timeline,
		Claimed:    record.Claimed,
		Refunded:   record.Refunded,
	}
}

func referralResult(record *sale.ReferralRecord) *ReferralResult {
	if record == nil {
		return nil
	}
	return &ReferralResult{
		Address:    encodeAddress(record.Referrer),
		BonusUnits: bigString(record.BonusUnits),
		BonusBps:   record.BonusBps,
		Purchases:  record.Purchases,
		Claimed:    record.Claimed,
	}
}

func receiptResult(receipt *sale.Receipt) *ReceiptResult {
	if receipt == nil {
		return nil
	}
	return &ReceiptResult{
		Buyer:       encodeAddress(receipt.Buyer),
		Beneficiary: encodeAddress(receipt.Beneficiary),
		Method:      receipt.Method.Key(),
		Paid:        bigString(receipt.Paid),
		USDValue:    bigString(receipt.USDValue),
		Units:       bigString(receipt.Units),
		BonusUnits:  bigString(receipt.BonusUnits),
		Referrer:    optionalAddress(receipt.Referrer),
		Round:       receipt.Round,
		Timeline:    receipt.Timeline.String(),
		Time:        receipt.Time,
	}
}

func totalsResult(totals *sale.Totals) TotalsResult {
	if totals == nil {
		return TotalsResult{UnitsSold: "0", BonusUnits: "0", USDRaised: "0"}
	}
	return TotalsResult{
		UnitsSold:  bigString(totals.UnitsSold),
		BonusUnits: bigString(totals.BonusUnits),
		USDRaised:  bigString(totals.USDRaised),
	}
}

func purchaseEntryResult(entry sale.PurchaseEntry) PurchaseEntryResult {
	return PurchaseEntryResult{
		Buyer:       encodeAddress(entry.Buyer),
		Beneficiary: encodeAddress(entry.Beneficiary),
		Method:      entry.Method,
		Paid:        bigString(entry.Paid),
		USDValue:    bigString(entry.USDValue),
		Units:       bigString(entry.Units),
		BonusUnits:  bigString(entry.BonusUnits),
		Referrer:    optionalAddress(entry.Referrer),
		Round:       entry.Round,
		Timeline:    entry.Timeline.String(),
		Time:        entry.Time,
	}
}
