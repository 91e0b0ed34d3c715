package pricing

import "errors"

var (
	ErrNilState         = errors.New("pricing: state not configured")
	ErrTokenNotAccepted = errors.New("pricing: payment token not accepted")
	ErrInvalidPrice     = errors.New("pricing: price must be positive")
	ErrPriceFrozen      = errors.New("pricing: prices frozen while a timeline is open")
	ErrPaymentTooSmall  = errors.New("pricing: payment too small")
	ErrZeroTokenAmount  = errors.New("pricing: zero token amount")
)
