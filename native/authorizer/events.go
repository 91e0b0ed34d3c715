package authorizer

import "crowdsale/core/types"

const (
	// TypeSignerRotated is emitted when the trusted voucher signer changes.
	TypeSignerRotated = "authorizer.signer_rotated"
	// TypeNonceConsumed is emitted when a voucher nonce is marked used.
	TypeNonceConsumed = "authorizer.nonce_consumed"
)

type authorizerEvent struct {
	evt *types.Event
}

func (e authorizerEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e authorizerEvent) Event() *types.Event { return e.evt }
