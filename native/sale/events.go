package sale

import (
	"fmt"
	"math/big"

	"crowdsale/core/types"
	"crowdsale/native/pricing"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// TypeTimelineStarted is emitted when a sale timeline opens.
	TypeTimelineStarted = "sale.timeline_started"
	// TypeRoundTransition is emitted when the active round advances.
	TypeRoundTransition = "sale.round_transition"
	// TypePriceUpdated is emitted when the payment price table changes.
	TypePriceUpdated = "sale.price_updated"
	// TypePurchase is emitted for every successful purchase.
	TypePurchase = "sale.purchase"
	// TypeFinalized is emitted once when the sale is finalized.
	TypeFinalized = "sale.finalized"
	// TypeCancelled is emitted once when the sale is cancelled.
	TypeCancelled = "sale.cancelled"
	// TypeClaimed is emitted when a buyer claims their entitlement.
	TypeClaimed = "sale.claimed"
	// TypeRefunded is emitted when a buyer takes an emergency refund.
	TypeRefunded = "sale.refunded"
	// TypeWithdrawal is emitted when the owner sweeps funds to the treasury.
	TypeWithdrawal = "sale.withdrawal"
)

type saleEvent struct {
	evt *types.Event
}

func (e saleEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e saleEvent) Event() *types.Event { return e.evt }

func (e *Engine) emit(eventType string, attrs map[string]string) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(saleEvent{evt: &types.Event{Type: eventType, Attributes: attrs}})
}

func bigAttr(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func (e *Engine) emitTimelineStarted(timeline *Timeline) {
	e.emit(TypeTimelineStarted, map[string]string{
		"timeline":  timeline.ID.String(),
		"startTime": fmt.Sprintf("%d", timeline.StartTime),
		"endTime":   fmt.Sprintf("%d", timeline.EndTime),
		"round":     fmt.Sprintf("%d", timeline.ActiveRound),
	})
}

func (e *Engine) emitRoundTransition(timeline *Timeline, reason string) {
	e.emit(TypeRoundTransition, map[string]string{
		"timeline": timeline.ID.String(),
		"round":    fmt.Sprintf("%d", timeline.ActiveRound),
		"reason":   reason,
	})
}

func (e *Engine) emitPriceUpdated(method pricing.Method, priceUSD *big.Int, decimals uint8, active bool) {
	e.emit(TypePriceUpdated, map[string]string{
		"method":   method.Key(),
		"priceUsd": bigAttr(priceUSD),
		"decimals": fmt.Sprintf("%d", decimals),
		"active":   fmt.Sprintf("%t", active),
	})
}

func (e *Engine) emitPurchase(receipt *Receipt) {
	attrs := map[string]string{
		"buyer":       common.Address(receipt.Buyer).Hex(),
		"beneficiary": common.Address(receipt.Beneficiary).Hex(),
		"method":      receipt.Method.Key(),
		"paid":        bigAttr(receipt.Paid),
		"usdValue":    bigAttr(receipt.USDValue),
		"units":       bigAttr(receipt.Units),
		"round":       fmt.Sprintf("%d", receipt.Round),
		"timeline":    receipt.Timeline.String(),
	}
	if receipt.Referrer != ([20]byte{}) {
		attrs["referrer"] = common.Address(receipt.Referrer).Hex()
		attrs["bonusUnits"] = bigAttr(receipt.BonusUnits)
	}
	e.emit(TypePurchase, attrs)
}

func (e *Engine) emitFinalized(totals *Totals, unsold *big.Int) {
	e.emit(TypeFinalized, map[string]string{
		"unitsSold":  bigAttr(totals.UnitsSold),
		"bonusUnits": bigAttr(totals.BonusUnits),
		"usdRaised":  bigAttr(totals.USDRaised),
		"unsold":     bigAttr(unsold),
	})
}

func (e *Engine) emitCancelled(timeline *Timeline) {
	e.emit(TypeCancelled, map[string]string{
		"timeline": timeline.ID.String(),
	})
}

func (e *Engine) emitClaimed(buyer [20]byte, amount, bonus *big.Int) {
	e.emit(TypeClaimed, map[string]string{
		"buyer":  common.Address(buyer).Hex(),
		"amount": bigAttr(amount),
		"bonus":  bigAttr(bonus),
	})
}

func (e *Engine) emitRefunded(buyer [20]byte, native *big.Int, tokens []TokenPaid) {
	attrs := map[string]string{
		"buyer":  common.Address(buyer).Hex(),
		"native": bigAttr(native),
	}
	for _, paid := range tokens {
		attrs["token:"+paid.Token] = bigAttr(paid.Amount)
	}
	e.emit(TypeRefunded, attrs)
}

func (e *Engine) emitWithdrawal(method pricing.Method, to [20]byte, amount *big.Int) {
	e.emit(TypeWithdrawal, map[string]string{
		"method": method.Key(),
		"to":     common.Address(to).Hex(),
		"amount": bigAttr(amount),
	})
}
