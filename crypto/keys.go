package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix is the human-readable part prepended to bech32 addresses.
type AddressPrefix string

// CoinPrefix identifies accounts on the sale engine's native ledger.
const CoinPrefix AddressPrefix = "iec"

const addressLength = 20

// Address is a 20-byte account identifier rendered as bech32 with a
// human-readable prefix.
type Address struct {
	prefix AddressPrefix
	raw    []byte
}

// NewAddress wraps raw account bytes. The length is an internal invariant;
// external input goes through DecodeAddress instead.
func NewAddress(prefix AddressPrefix, raw []byte) Address {
	if len(raw) != addressLength {
		panic(fmt.Sprintf("address must be %d bytes long", addressLength))
	}
	return Address{prefix: prefix, raw: raw}
}

// Bytes returns the raw 20-byte form.
func (a Address) Bytes() []byte { return a.raw }

// Prefix returns the human-readable prefix.
func (a Address) Prefix() AddressPrefix { return a.prefix }

func (a Address) String() string {
	regrouped, err := bech32.ConvertBits(a.raw, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), regrouped)
	if err != nil {
		panic(err)
	}
	return encoded
}

// DecodeAddress parses a bech32 account string, keeping whatever prefix it
// carries.
func DecodeAddress(encoded string) (Address, error) {
	prefix, data, err := bech32.Decode(encoded)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	if len(raw) != addressLength {
		return Address{}, fmt.Errorf("address payload is %d bytes, want %d", len(raw), addressLength)
	}
	return NewAddress(AddressPrefix(prefix), raw), nil
}

// MustDecodeAddress is DecodeAddress for static configuration values already
// validated at load time.
func MustDecodeAddress(encoded string) Address {
	addr, err := DecodeAddress(encoded)
	if err != nil {
		panic(err)
	}
	return addr
}

// PrivateKey wraps a secp256k1 signing key.
type PrivateKey struct {
	*ecdsa.PrivateKey
}

// PublicKey wraps the verification half of a key pair.
type PublicKey struct {
	*ecdsa.PublicKey
}

// GeneratePrivateKey creates a fresh secp256k1 key pair.
func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// PrivateKeyFromBytes restores a key from its 32-byte scalar form.
func PrivateKeyFromBytes(raw []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the 32-byte scalar form of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

// PubKey returns the verification half of the key pair.
func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Address derives the native-ledger account for the key.
func (k *PublicKey) Address() Address {
	return NewAddress(CoinPrefix, crypto.PubkeyToAddress(*k.PublicKey).Bytes())
}
