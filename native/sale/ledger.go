package sale

import (
	"math/big"

	"crowdsale/native/pricing"

	"github.com/ethereum/go-ethereum/rlp"
)

// PurchaseEntry is one row of the append-only purchase ledger, kept for audit
// export and operator tooling.
type PurchaseEntry struct {
	Buyer       [20]byte
	Beneficiary [20]byte
	Method      string
	Paid        *big.Int
	USDValue    *big.Int
	Units       *big.Int
	BonusUnits  *big.Int
	Referrer    [20]byte
	Round       uint8
	Timeline    TimelineID
	Time        int64
}

type storedPurchaseEntry struct {
	Buyer       [20]byte
	Beneficiary [20]byte
	Method      string
	Paid        string
	USDValue    string
	Units       string
	BonusUnits  string
	Referrer    [20]byte
	Round       uint8
	Timeline    uint8
	Time        uint64
}

func (e *Engine) appendPurchase(receipt *Receipt) error {
	stored := storedPurchaseEntry{
		Buyer:       receipt.Buyer,
		Beneficiary: receipt.Beneficiary,
		Method:      receipt.Method.Key(),
		Paid:        bigToString(receipt.Paid),
		USDValue:    bigToString(receipt.USDValue),
		Units:       bigToString(receipt.Units),
		BonusUnits:  bigToString(receipt.BonusUnits),
		Referrer:    receipt.Referrer,
		Round:       receipt.Round,
		Timeline:    uint8(receipt.Timeline),
		Time:        int64ToUint64(receipt.Time),
	}
	encoded, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return err
	}
	return e.state.KVAppend(purchaseIndexKey, encoded)
}

// Purchases returns a page of the append-only purchase ledger in insertion
// order. A limit of zero or less returns everything from offset onward.
func (e *Engine) Purchases(offset, limit int) ([]PurchaseEntry, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	var raw [][]byte
	if err := e.state.KVGetList(purchaseIndexKey, &raw); err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(raw) {
		return nil, nil
	}
	raw = raw[offset:]
	if limit > 0 && limit < len(raw) {
		raw = raw[:limit]
	}
	entries := make([]PurchaseEntry, 0, len(raw))
	for _, encoded := range raw {
		var stored storedPurchaseEntry
		if err := rlp.DecodeBytes(encoded, &stored); err != nil {
			return nil, err
		}
		stamp, err := uint64ToInt64(stored.Time)
		if err != nil {
			return nil, err
		}
		paid, err := stringToBig(stored.Paid)
		if err != nil {
			return nil, err
		}
		usd, err := stringToBig(stored.USDValue)
		if err != nil {
			return nil, err
		}
		units, err := stringToBig(stored.Units)
		if err != nil {
			return nil, err
		}
		bonus, err := stringToBig(stored.BonusUnits)
		if err != nil {
			return nil, err
		}
		entries = append(entries, PurchaseEntry{
			Buyer:       stored.Buyer,
			Beneficiary: stored.Beneficiary,
			Method:      pricing.MethodFromKey(stored.Method).Key(),
			Paid:        paid,
			USDValue:    usd,
			Units:       units,
			BonusUnits:  bonus,
			Referrer:    stored.Referrer,
			Round:       stored.Round,
			Timeline:    TimelineID(stored.Timeline),
			Time:        stamp,
		})
	}
	return entries, nil
}
