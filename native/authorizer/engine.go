package authorizer

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"crowdsale/core/events"
	"crowdsale/core/types"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Storage abstracts the subset of state manager functionality required by the
// authorizer.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var (
	signerConfigKey = []byte("authorizer/config")
	noncePrefix     = []byte("authorizer/nonce/")
)

type storedSignerConfig struct {
	Owner  [20]byte
	Signer [20]byte
}

type storedNonce struct {
	ConsumedAt uint64
}

// Engine verifies signed purchase vouchers against the configured issuer and
// tracks nonce consumption to prevent replay. Verification is pure; Consume is
// the only mutation and callers invoke it only after payment has been
// accepted, so a failed purchase never burns a nonce.
type Engine struct {
	store    Storage
	chainID  uint64
	instance [20]byte
	emitter  events.Emitter
	nowFn    func() int64
}

// NewEngine constructs an authorizer for the sale engine instance identified
// by the supplied address on the given chain.
func NewEngine(store Storage, chainID uint64, instance [20]byte) *Engine {
	return &Engine{
		store:    store,
		chainID:  chainID,
		instance: instance,
		emitter:  events.NoopEmitter{},
		nowFn:    func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source, primarily for deterministic testing.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// Instance returns the sale engine address vouchers must be bound to.
func (e *Engine) Instance() [20]byte { return e.instance }

// ChainID returns the chain identifier folded into every voucher digest.
func (e *Engine) ChainID() uint64 { return e.chainID }

// DomainSeparator returns the deterministic value binding chain id, instance
// address, and the versioned type string. Two deployments never share one.
func (e *Engine) DomainSeparator() [32]byte {
	payload := fmt.Sprintf("%s|chain=%d|instance=%s",
		VoucherDomainV1, e.chainID, hex.EncodeToString(e.instance[:]))
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256([]byte(payload)))
	return out
}

// Bootstrap writes the initial owner/signer configuration. It fails once a
// configuration exists; rotation goes through RotateSigner.
func (e *Engine) Bootstrap(owner, signer [20]byte) error {
	if e == nil || e.store == nil {
		return ErrNilState
	}
	if owner == ([20]byte{}) || signer == ([20]byte{}) {
		return fmt.Errorf("authorizer: owner and signer required")
	}
	var existing storedSignerConfig
	ok, err := e.store.KVGet(signerConfigKey, &existing)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("authorizer: already bootstrapped")
	}
	return e.store.KVPut(signerConfigKey, storedSignerConfig{Owner: owner, Signer: signer})
}

// SignerConfig returns the configured owner and trusted signer.
func (e *Engine) SignerConfig() (owner, signer [20]byte, err error) {
	if e == nil || e.store == nil {
		return owner, signer, ErrNilState
	}
	var stored storedSignerConfig
	ok, err := e.store.KVGet(signerConfigKey, &stored)
	if err != nil {
		return owner, signer, err
	}
	if !ok {
		return owner, signer, ErrNotConfigured
	}
	return stored.Owner, stored.Signer, nil
}

// RotateSigner replaces the trusted signer. Only the configured owner may
// rotate.
func (e *Engine) RotateSigner(caller, newSigner [20]byte) error {
	owner, signer, err := e.SignerConfig()
	if err != nil {
		return err
	}
	if caller != owner {
		return ErrUnauthorized
	}
	if newSigner == ([20]byte{}) {
		return fmt.Errorf("authorizer: signer required")
	}
	if err := e.store.KVPut(signerConfigKey, storedSignerConfig{Owner: owner, Signer: newSigner}); err != nil {
		return err
	}
	e.emit(&types.Event{
		Type: TypeSignerRotated,
		Attributes: map[string]string{
			"previous": hex.EncodeToString(signer[:]),
			"signer":   hex.EncodeToString(newSigner[:]),
		},
	})
	return nil
}

// Verify checks the voucher signature, binding, expiry and nonce without
// mutating any state.
func (e *Engine) Verify(v *Voucher, signature []byte) error {
	if e == nil || e.store == nil {
		return ErrNilState
	}
	if v == nil {
		return ErrNilVoucher
	}
	if v.Binding != e.instance {
		return ErrWrongBinding
	}
	if v.Expiry <= e.now() {
		return ErrExpiredVoucher
	}
	_, signer, err := e.SignerConfig()
	if err != nil {
		return err
	}
	if len(signature) != 65 {
		return ErrInvalidSignature
	}
	pubKey, err := ethcrypto.SigToPub(v.Hash(e.chainID), signature)
	if err != nil {
		return ErrInvalidSignature
	}
	recovered := ethcrypto.PubkeyToAddress(*pubKey)
	if recovered != ethcommon.BytesToAddress(signer[:]) {
		return ErrInvalidSignature
	}
	consumed, err := e.Consumed(v.Buyer, v.Nonce)
	if err != nil {
		return err
	}
	if consumed {
		return ErrNonceReused
	}
	return nil
}

// Consumed reports whether the (buyer, nonce) pair has already been used.
func (e *Engine) Consumed(buyer [20]byte, nonce uint64) (bool, error) {
	if e == nil || e.store == nil {
		return false, ErrNilState
	}
	var stored storedNonce
	ok, err := e.store.KVGet(nonceKey(buyer, nonce), &stored)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Consume marks the (buyer, nonce) pair as used. A second call for the same
// pair fails with ErrNonceReused.
func (e *Engine) Consume(buyer [20]byte, nonce uint64) error {
	consumed, err := e.Consumed(buyer, nonce)
	if err != nil {
		return err
	}
	if consumed {
		return ErrNonceReused
	}
	now := e.now()
	if now < 0 {
		now = 0
	}
	if err := e.store.KVPut(nonceKey(buyer, nonce), storedNonce{ConsumedAt: uint64(now)}); err != nil {
		return err
	}
	e.emit(&types.Event{
		Type: TypeNonceConsumed,
		Attributes: map[string]string{
			"buyer": hex.EncodeToString(buyer[:]),
			"nonce": fmt.Sprintf("%d", nonce),
		},
	})
	return nil
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(authorizerEvent{evt: event})
}

func nonceKey(buyer [20]byte, nonce uint64) []byte {
	encoded := hex.EncodeToString(buyer[:])
	buf := make([]byte, 0, len(noncePrefix)+len(encoded)+1+8)
	buf = append(buf, noncePrefix...)
	buf = append(buf, encoded...)
	buf = append(buf, '/')
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], nonce)
	return append(buf, seq[:]...)
}
