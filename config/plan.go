package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"crowdsale/crypto"
	"crowdsale/native/sale"

	"gopkg.in/yaml.v3"
)

// Plan is the YAML sale plan as written by operators. Monetary values are
// decimal USD strings ("250", "0.50"); token quantities are integer base-unit
// strings.
type Plan struct {
	Owner           string `yaml:"owner"`
	Treasury        string `yaml:"treasury"`
	UnsoldRecipient string `yaml:"unsold_recipient"`
	VoucherSigner   string `yaml:"voucher_signer"`

	Limits struct {
		MinPurchaseUSD string `yaml:"min_purchase_usd"`
		MaxPurchaseUSD string `yaml:"max_purchase_usd"`
		GasBufferWei   string `yaml:"gas_buffer_wei"`
	} `yaml:"limits"`

	Referral struct {
		Enabled bool   `yaml:"enabled"`
		Bps     uint32 `yaml:"bps"`
	} `yaml:"referral"`

	Whitelist struct {
		Enabled     bool              `yaml:"enabled"`
		Allocations map[string]string `yaml:"allocations"`
	} `yaml:"whitelist"`

	KYCRequired    bool     `yaml:"kyc_required"`
	KYCVerified    []string `yaml:"kyc_verified"`
	VoucherEnabled bool     `yaml:"voucher_enabled"`

	Escrow struct {
		LaunchTime      int64 `yaml:"launch_time"`
		DurationSeconds int64 `yaml:"duration_seconds"`
	} `yaml:"escrow"`

	Rounds []PlanRound `yaml:"rounds"`
	Prices []PlanPrice `yaml:"prices"`
}

// PlanRound describes one sale round.
type PlanRound struct {
	ID              uint8  `yaml:"id"`
	UnitsPerUSD     string `yaml:"units_per_usd"`
	Capacity        string `yaml:"capacity"`
	DurationSeconds int64  `yaml:"duration_seconds"`
}

// PlanPrice describes one payment-method price entry.
type PlanPrice struct {
	Key      string `yaml:"key"`
	USD      string `yaml:"usd"`
	Decimals uint8  `yaml:"decimals"`
	Active   bool   `yaml:"active"`
}

// ResolvedRound is a plan round with amounts parsed.
type ResolvedRound struct {
	ID          uint8
	UnitsPerUSD *big.Int
	Capacity    *big.Int
	Duration    int64
}

// ResolvedPrice is a plan price with the USD value parsed to fixed point.
type ResolvedPrice struct {
	Key      string
	PriceUSD *big.Int
	Decimals uint8
	Active   bool
}

// ResolvedPlan carries the plan converted to engine-ready values.
type ResolvedPlan struct {
	Params        sale.Params
	VoucherSigner [20]byte
	Allocations   map[[20]byte]*big.Int
	KYCVerified   [][20]byte
	Rounds        []ResolvedRound
	Prices        []ResolvedPrice
}

// LoadPlan reads and resolves the YAML sale plan at path.
func LoadPlan(path string) (*ResolvedPlan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read sale plan: %w", err)
	}
	plan := &Plan{}
	if err := yaml.Unmarshal(raw, plan); err != nil {
		return nil, fmt.Errorf("config: parse sale plan: %w", err)
	}
	return plan.Resolve()
}

// Resolve validates the plan and parses every amount and address.
func (p *Plan) Resolve() (*ResolvedPlan, error) {
	resolved := &ResolvedPlan{Allocations: make(map[[20]byte]*big.Int)}

	params := sale.DefaultParams()
	var err error
	if params.Owner, err = decodeAddr("owner", p.Owner); err != nil {
		return nil, err
	}
	if params.Treasury, err = decodeAddr("treasury", p.Treasury); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.UnsoldRecipient) != "" {
		if params.UnsoldRecipient, err = decodeAddr("unsold_recipient", p.UnsoldRecipient); err != nil {
			return nil, err
		}
	}
	if resolved.VoucherSigner, err = decodeAddr("voucher_signer", p.VoucherSigner); err != nil {
		return nil, err
	}
	if params.MinPurchaseUSD, err = ParseUSD(p.Limits.MinPurchaseUSD); err != nil {
		return nil, fmt.Errorf("config: limits.min_purchase_usd: %w", err)
	}
	if params.MaxPurchaseUSD, err = ParseUSD(p.Limits.MaxPurchaseUSD); err != nil {
		return nil, fmt.Errorf("config: limits.max_purchase_usd: %w", err)
	}
	if params.GasBuffer, err = parseAmount(p.Limits.GasBufferWei); err != nil {
		return nil, fmt.Errorf("config: limits.gas_buffer_wei: %w", err)
	}
	params.ReferralEnabled = p.Referral.Enabled
	params.ReferralBps = p.Referral.Bps
	params.WhitelistEnabled = p.Whitelist.Enabled
	params.KYCRequired = p.KYCRequired
	params.VoucherEnabled = p.VoucherEnabled
	params.EscrowLaunchTime = p.Escrow.LaunchTime
	params.EscrowDuration = p.Escrow.DurationSeconds
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("config: sale plan: %w", err)
	}
	resolved.Params = params

	for encoded, allocation := range p.Whitelist.Allocations {
		buyer, err := decodeAddr("whitelist allocation", encoded)
		if err != nil {
			return nil, err
		}
		amount, err := ParseUSD(allocation)
		if err != nil {
			return nil, fmt.Errorf("config: allocation for %s: %w", encoded, err)
		}
		resolved.Allocations[buyer] = amount
	}

	for _, encoded := range p.KYCVerified {
		buyer, err := decodeAddr("kyc_verified", encoded)
		if err != nil {
			return nil, err
		}
		resolved.KYCVerified = append(resolved.KYCVerified, buyer)
	}

	if len(p.Rounds) != 2 {
		return nil, fmt.Errorf("config: sale plan must configure exactly two rounds, got %d", len(p.Rounds))
	}
	seen := map[uint8]bool{}
	for _, round := range p.Rounds {
		if round.ID != sale.RoundOne && round.ID != sale.RoundTwo {
			return nil, fmt.Errorf("config: unknown round id %d", round.ID)
		}
		if seen[round.ID] {
			return nil, fmt.Errorf("config: duplicate round id %d", round.ID)
		}
		seen[round.ID] = true
		unitsPerUSD, err := parseAmount(round.UnitsPerUSD)
		if err != nil {
			return nil, fmt.Errorf("config: round %d units_per_usd: %w", round.ID, err)
		}
		capacity, err := parseAmount(round.Capacity)
		if err != nil {
			return nil, fmt.Errorf("config: round %d capacity: %w", round.ID, err)
		}
		resolved.Rounds = append(resolved.Rounds, ResolvedRound{
			ID:          round.ID,
			UnitsPerUSD: unitsPerUSD,
			Capacity:    capacity,
			Duration:    round.DurationSeconds,
		})
	}

	if len(p.Prices) == 0 {
		return nil, fmt.Errorf("config: sale plan must configure at least one price entry")
	}
	for _, price := range p.Prices {
		key := strings.ToUpper(strings.TrimSpace(price.Key))
		if key == "" {
			return nil, fmt.Errorf("config: price entry with empty key")
		}
		priceUSD, err := ParseUSD(price.USD)
		if err != nil {
			return nil, fmt.Errorf("config: price for %s: %w", key, err)
		}
		resolved.Prices = append(resolved.Prices, ResolvedPrice{
			Key:      key,
			PriceUSD: priceUSD,
			Decimals: price.Decimals,
			Active:   price.Active,
		})
	}
	return resolved, nil
}

func decodeAddr(field, value string) ([20]byte, error) {
	var out [20]byte
	decoded, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return out, fmt.Errorf("config: %s: %w", field, err)
	}
	copy(out[:], decoded.Bytes())
	return out, nil
}

// ParseUSD converts a decimal USD string with up to 8 fractional digits into
// 8-decimal fixed point.
func ParseUSD(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	whole, frac, _ := strings.Cut(trimmed, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 8 {
		return nil, fmt.Errorf("more than 8 decimal places in %q", value)
	}
	frac += strings.Repeat("0", 8-len(frac))
	combined := whole + frac
	parsed, ok := new(big.Int).SetString(combined, 10)
	if !ok || parsed.Sign() < 0 {
		return nil, fmt.Errorf("invalid USD amount %q", value)
	}
	return parsed, nil
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || parsed.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return parsed, nil
}
