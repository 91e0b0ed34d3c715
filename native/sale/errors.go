package sale

import "errors"

var (
	ErrNilState     = errors.New("sale: state not configured")
	ErrUnauthorized = errors.New("sale: unauthorized")

	// Configuration errors.
	ErrInvalidRound        = errors.New("sale: invalid round id")
	ErrInvalidParams       = errors.New("sale: invalid parameters")
	ErrRoundConfigured     = errors.New("sale: round already configured")
	ErrConfigAfterStart    = errors.New("sale: configuration rejected after start")
	ErrRoundNotConfigured  = errors.New("sale: round not configured")
	ErrPaymentTokenUnknown = errors.New("sale: payment token not registered")
	ErrKYCProviderMissing  = errors.New("sale: no KYC provider configured")

	// State errors.
	ErrPresaleNotStarted = errors.New("sale: no timeline open")
	ErrWrongMode         = errors.New("sale: wrong timeline mode")
	ErrInvalidState      = errors.New("sale: invalid state")
	ErrAlreadyStarted    = errors.New("sale: timeline already started")
	ErrTimelineNotEnded  = errors.New("sale: timeline not ended")
	ErrAlreadyFinalized  = errors.New("sale: already finalized")
	ErrNotCancelled      = errors.New("sale: sale not cancelled")
	ErrCancelled         = errors.New("sale: sale cancelled")
	ErrLaunchNotReached  = errors.New("sale: escrow launch time not reached")

	// Limit errors.
	ErrInsufficientPayment    = errors.New("sale: payment below configured minimum")
	ErrLimitExceeded          = errors.New("sale: purchase exceeds per-user limit")
	ErrVoucherLimitExceeded   = errors.New("sale: purchase exceeds voucher limit")
	ErrRoundCapacityExceeded  = errors.New("sale: purchase exceeds round capacity")
	ErrSoldOut                = errors.New("sale: sale sold out")
	ErrNotWhitelisted         = errors.New("sale: buyer not whitelisted")
	ErrKYCRequired            = errors.New("sale: buyer not KYC verified")
	ErrSelfReferral           = errors.New("sale: self referral")
	ErrVoucherDisabled        = errors.New("sale: voucher purchases disabled")
	ErrVoucherMethodMismatch  = errors.New("sale: voucher payment method mismatch")
	ErrVoucherBuyerMismatch   = errors.New("sale: voucher issued to a different buyer")

	// Payment errors.
	ErrDeflationaryTokenRejected      = errors.New("sale: deflationary payment token rejected")
	ErrInsufficientPaymentAfterBuffer = errors.New("sale: payment does not cover gas buffer")

	// Settlement errors.
	ErrNoActiveSaleEnded = errors.New("sale: no ended sale to claim from")
	ErrClaimsNotEnabled  = errors.New("sale: claims not enabled")
	ErrAlreadyClaimed    = errors.New("sale: already claimed")
	ErrAlreadyRefunded   = errors.New("sale: already refunded")
	ErrNothingToClaim    = errors.New("sale: nothing to claim")
	ErrNothingToRefund   = errors.New("sale: nothing to refund")
)
