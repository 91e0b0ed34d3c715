package sale

// KYCUpdater is implemented by providers whose verified set is maintained
// through the engine rather than by an external oracle.
type KYCUpdater interface {
	SetVerified(addr [20]byte, verified bool) error
}

// KYCRegistry is a storage-backed verification set that satisfies both
// KYCProvider and KYCUpdater. Deployments without an external verification
// oracle wire this registry so the owner can admit buyers directly.
type KYCRegistry struct {
	store Storage
}

// NewKYCRegistry creates a registry backed by the supplied store.
func NewKYCRegistry(store Storage) *KYCRegistry {
	return &KYCRegistry{store: store}
}

type storedKYCEntry struct {
	Verified bool
}

// IsCurrentlyVerified reports whether the address holds a verification entry.
// Lookup failures read as unverified.
func (r *KYCRegistry) IsCurrentlyVerified(addr [20]byte) bool {
	if r == nil || r.store == nil {
		return false
	}
	var stored storedKYCEntry
	ok, err := r.store.KVGet(kycKey(addr), &stored)
	if err != nil || !ok {
		return false
	}
	return stored.Verified
}

// SetVerified records or clears the verification entry for an address.
func (r *KYCRegistry) SetVerified(addr [20]byte, verified bool) error {
	if r == nil || r.store == nil {
		return ErrNilState
	}
	if !verified {
		return r.store.KVDelete(kycKey(addr))
	}
	return r.store.KVPut(kycKey(addr), storedKYCEntry{Verified: true})
}

// SetKYCVerified marks or clears an address in the wired verification
// registry. It fails when the wired provider does not accept local updates.
func (e *Engine) SetKYCVerified(caller, addr [20]byte, verified bool) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if _, err := e.requireOwner(caller); err != nil {
		return err
	}
	updater, ok := e.kyc.(KYCUpdater)
	if !ok {
		return ErrKYCProviderMissing
	}
	return updater.SetVerified(addr, verified)
}
