package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"crowdsale/crypto"

	"github.com/stretchr/testify/require"
)

func testAddress(t *testing.T) string {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return key.PubKey().Address().String()
}

func TestLoadCreatesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.FileExists(t, path)
	require.Equal(t, ":8545", cfg.RPCAddress)
	require.NotZero(t, cfg.ChainID)
	// The default has no instance address, so it does not validate yet.
	require.Error(t, cfg.Validate())
}

func TestLoadExistingConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
RPCAddress = ":9000"
InstanceAddress = "` + testAddress(t) + `"
ChainID = 42
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.RPCAddress)
	require.EqualValues(t, 42, cfg.ChainID)
	// Defaults fill the rest.
	require.Equal(t, 600, cfg.RateLimitPerMin)
	require.NoError(t, cfg.Validate())
}

func TestTokenSecretPrefersEnvironment(t *testing.T) {
	cfg := &Config{AuthTokenEnv: "CROWDSALE_TEST_SECRET", AuthTokenSecret: "from-file"}
	t.Setenv("CROWDSALE_TEST_SECRET", "from-env")
	secret, err := cfg.TokenSecret()
	require.NoError(t, err)
	require.Equal(t, "from-env", secret)

	t.Setenv("CROWDSALE_TEST_SECRET", "")
	secret, err = cfg.TokenSecret()
	require.NoError(t, err)
	require.Equal(t, "from-file", secret)

	cfg.AuthTokenSecret = ""
	_, err = cfg.TokenSecret()
	require.Error(t, err)
}

func TestParseUSD(t *testing.T) {
	cases := map[string]string{
		"":        "0",
		"250":     "25000000000",
		"0.5":     "50000000",
		"1.25":    "125000000",
		"10000":   "1000000000000",
		".0000001": "10",
	}
	for input, want := range cases {
		parsed, err := ParseUSD(input)
		require.NoError(t, err, input)
		expected, ok := new(big.Int).SetString(want, 10)
		require.True(t, ok)
		require.Zero(t, parsed.Cmp(expected), "input %q", input)
	}
	_, err := ParseUSD("1.123456789")
	require.Error(t, err)
	_, err = ParseUSD("-5")
	require.Error(t, err)
	_, err = ParseUSD("abc")
	require.Error(t, err)
}

func planYAML(t *testing.T) string {
	owner := testAddress(t)
	treasury := testAddress(t)
	signer := testAddress(t)
	buyer := testAddress(t)
	return `
owner: ` + owner + `
treasury: ` + treasury + `
voucher_signer: ` + signer + `
limits:
  min_purchase_usd: "10"
  max_purchase_usd: "5000"
  gas_buffer_wei: "1000000000000000"
referral:
  enabled: true
  bps: 500
whitelist:
  enabled: true
  allocations:
    ` + buyer + `: "8000"
voucher_enabled: true
escrow:
  launch_time: 2000000
  duration_seconds: 86400
rounds:
  - id: 1
    units_per_usd: "10000000000000000000"
    capacity: "10000000000000000000000"
    duration_seconds: 3600
  - id: 2
    units_per_usd: "5000000000000000000"
    capacity: "100000000000000000000000"
prices:
  - key: NATIVE
    usd: "2000"
    decimals: 18
    active: true
  - key: usdt
    usd: "1"
    decimals: 6
    active: true
`
}

func TestLoadPlanResolvesAmounts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sale-plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(planYAML(t)), 0o644))

	plan, err := LoadPlan(path)
	require.NoError(t, err)
	require.Len(t, plan.Rounds, 2)
	require.Len(t, plan.Prices, 2)
	require.Len(t, plan.Allocations, 1)
	require.Equal(t, "USDT", plan.Prices[1].Key)
	require.True(t, plan.Params.ReferralEnabled)
	require.EqualValues(t, 500, plan.Params.ReferralBps)
	minUSD, _ := new(big.Int).SetString("1000000000", 10)
	require.Zero(t, plan.Params.MinPurchaseUSD.Cmp(minUSD))
	for _, allocation := range plan.Allocations {
		expected, _ := new(big.Int).SetString("800000000000", 10)
		require.Zero(t, allocation.Cmp(expected))
	}
}

func TestPlanRejectsBadRoundSet(t *testing.T) {
	plan := &Plan{}
	plan.Owner = testAddress(t)
	plan.Treasury = testAddress(t)
	plan.VoucherSigner = testAddress(t)
	plan.Limits.MaxPurchaseUSD = "5000"
	plan.Rounds = []PlanRound{{ID: 1, UnitsPerUSD: "1", Capacity: "1"}}
	_, err := plan.Resolve()
	require.ErrorContains(t, err, "two rounds")

	plan.Rounds = []PlanRound{
		{ID: 1, UnitsPerUSD: "1", Capacity: "1"},
		{ID: 1, UnitsPerUSD: "1", Capacity: "1"},
	}
	_, err = plan.Resolve()
	require.ErrorContains(t, err, "duplicate round")
}
