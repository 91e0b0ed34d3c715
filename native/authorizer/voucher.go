package authorizer

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	repoCrypto "crowdsale/crypto"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// VoucherDomainV1 defines the voucher domain string for the first purchase
// voucher version. It is folded into every digest so signatures cannot be
// replayed against a different voucher format.
const VoucherDomainV1 = "IEC_SALE_VOUCHER_V1"

// Voucher captures the structured purchase authorization signed by the trusted
// off-chain issuer. PayMethod holds the price-table key of the payment medium
// ("NATIVE" or a token symbol). USDLimit is the maximum 8-decimal USD value
// the voucher permits for the authorized purchase.
type Voucher struct {
	Buyer       [20]byte
	Beneficiary [20]byte
	PayMethod   string
	USDLimit    *big.Int
	Nonce       uint64
	Expiry      int64
	Binding     [20]byte
}

// Clone returns a deep copy of the voucher.
func (v *Voucher) Clone() *Voucher {
	if v == nil {
		return nil
	}
	clone := *v
	if v.USDLimit != nil {
		clone.USDLimit = new(big.Int).Set(v.USDLimit)
	}
	return &clone
}

type voucherJSON struct {
	Buyer       string `json:"buyer"`
	Beneficiary string `json:"beneficiary"`
	PayMethod   string `json:"payMethod"`
	USDLimit    string `json:"usdLimit"`
	Nonce       uint64 `json:"nonce"`
	Expiry      int64  `json:"expiry"`
	Binding     string `json:"binding"`
}

// MarshalJSON encodes the voucher into the representation consumed by RPC
// clients, with bech32 addresses and a decimal USD limit.
func (v Voucher) MarshalJSON() ([]byte, error) {
	limit := "0"
	if v.USDLimit != nil {
		limit = v.USDLimit.String()
	}
	payload := voucherJSON{
		Buyer:       encodeAddr(v.Buyer),
		Beneficiary: encodeAddr(v.Beneficiary),
		PayMethod:   strings.ToUpper(strings.TrimSpace(v.PayMethod)),
		USDLimit:    limit,
		Nonce:       v.Nonce,
		Expiry:      v.Expiry,
		Binding:     encodeAddr(v.Binding),
	}
	return json.Marshal(payload)
}

// UnmarshalJSON decodes the on-wire representation into the canonical struct.
func (v *Voucher) UnmarshalJSON(data []byte) error {
	if v == nil {
		return fmt.Errorf("voucher: nil receiver")
	}
	var payload voucherJSON
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	buyer, err := decodeAddr(payload.Buyer)
	if err != nil {
		return fmt.Errorf("voucher: buyer: %w", err)
	}
	beneficiary := buyer
	if strings.TrimSpace(payload.Beneficiary) != "" {
		beneficiary, err = decodeAddr(payload.Beneficiary)
		if err != nil {
			return fmt.Errorf("voucher: beneficiary: %w", err)
		}
	}
	binding, err := decodeAddr(payload.Binding)
	if err != nil {
		return fmt.Errorf("voucher: binding: %w", err)
	}
	method := strings.ToUpper(strings.TrimSpace(payload.PayMethod))
	if method == "" {
		return fmt.Errorf("voucher: payMethod required")
	}
	limitStr := strings.TrimSpace(payload.USDLimit)
	if limitStr == "" {
		return fmt.Errorf("voucher: usdLimit required")
	}
	limit, ok := new(big.Int).SetString(limitStr, 10)
	if !ok {
		return fmt.Errorf("voucher: invalid usdLimit %q", payload.USDLimit)
	}
	if limit.Sign() <= 0 {
		return fmt.Errorf("voucher: usdLimit must be positive")
	}
	*v = Voucher{
		Buyer:       buyer,
		Beneficiary: beneficiary,
		PayMethod:   method,
		USDLimit:    limit,
		Nonce:       payload.Nonce,
		Expiry:      payload.Expiry,
		Binding:     binding,
	}
	return nil
}

// Hash reconstructs the canonical message digest signed by the voucher issuer.
// The digest covers all seven voucher fields plus the domain string and chain
// identifier, making signatures non-portable across chains and instances.
func (v Voucher) Hash(chainID uint64) []byte {
	limit := "0"
	if v.USDLimit != nil {
		limit = v.USDLimit.String()
	}
	payload := fmt.Sprintf("%s|chain=%d|binding=%s|buyer=%s|beneficiary=%s|pay=%s|usdLimit=%s|nonce=%d|exp=%d",
		VoucherDomainV1,
		chainID,
		hex.EncodeToString(v.Binding[:]),
		hex.EncodeToString(v.Buyer[:]),
		hex.EncodeToString(v.Beneficiary[:]),
		strings.ToUpper(strings.TrimSpace(v.PayMethod)),
		limit,
		v.Nonce,
		v.Expiry,
	)
	return ethcrypto.Keccak256([]byte(payload))
}

// Sign produces the 65-byte issuer signature over the voucher digest. It lives
// here so the off-chain issuer, tests, and the engine share one codepath.
func Sign(v Voucher, chainID uint64, key *repoCrypto.PrivateKey) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("voucher: nil signing key")
	}
	return ethcrypto.Sign(v.Hash(chainID), key.PrivateKey)
}

func encodeAddr(addr [20]byte) string {
	if addr == ([20]byte{}) {
		return ""
	}
	return repoCrypto.NewAddress(repoCrypto.CoinPrefix, addr[:]).String()
}

func decodeAddr(value string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return out, fmt.Errorf("address required")
	}
	decoded, err := repoCrypto.DecodeAddress(trimmed)
	if err != nil {
		return out, err
	}
	copy(out[:], decoded.Bytes())
	return out, nil
}
