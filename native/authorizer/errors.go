package authorizer

import "errors"

var (
	ErrNilState         = errors.New("authorizer: state not configured")
	ErrNotConfigured    = errors.New("authorizer: signer not configured")
	ErrUnauthorized     = errors.New("authorizer: unauthorized")
	ErrNilVoucher       = errors.New("authorizer: nil voucher")
	ErrExpiredVoucher   = errors.New("authorizer: voucher expired")
	ErrInvalidSignature = errors.New("authorizer: invalid signature")
	ErrWrongBinding     = errors.New("authorizer: voucher bound to a different instance")
	ErrNonceReused      = errors.New("authorizer: nonce already consumed")
)
