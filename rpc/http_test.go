package rpc

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	repoCrypto "crowdsale/crypto"
	"crowdsale/native/authorizer"
	"crowdsale/native/bank"
	"crowdsale/native/pricing"
	"crowdsale/native/sale"
	"crowdsale/storage"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testChainID   = 1887
	testStartTime = int64(1_000_000)
	testSecret    = "rpc-test-secret"
	testIssuer    = "crowdsale-ops"
	testAudience  = "crowdsale-rpc"
)

func testAddr(b byte) [20]byte {
	var out [20]byte
	out[19] = b
	return out
}

func usdAmount(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(100_000_000))
}

func unitAmount(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

type rpcClock struct {
	now int64
}

func (c *rpcClock) Now() int64 { return c.now }

type rpcSaleToken struct {
	minted map[[20]byte]*big.Int
}

func newRPCSaleToken() *rpcSaleToken {
	return &rpcSaleToken{minted: make(map[[20]byte]*big.Int)}
}

func (t *rpcSaleToken) Mint(to [20]byte, amount *big.Int) error {
	balance, ok := t.minted[to]
	if !ok {
		balance = big.NewInt(0)
	}
	t.minted[to] = new(big.Int).Add(balance, amount)
	return nil
}

func (t *rpcSaleToken) Transfer(to [20]byte, amount *big.Int) error { return t.Mint(to, amount) }

func (t *rpcSaleToken) BalanceOf(addr [20]byte) (*big.Int, error) {
	balance, ok := t.minted[addr]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(balance), nil
}

func (t *rpcSaleToken) Decimals() uint8 { return 18 }

type rpcFixture struct {
	server    *Server
	http      *httptest.Server
	clock     *rpcClock
	bank      *bank.Ledger
	saleToken *rpcSaleToken
	signerKey *repoCrypto.PrivateKey
	owner     [20]byte
	treasury  [20]byte
	instance  [20]byte
}

func newRPCFixture(t *testing.T, cfg ServerConfig) *rpcFixture {
	t.Helper()
	memory := storage.NewMemory()
	clock := &rpcClock{now: testStartTime}

	owner := testAddr(0xAA)
	treasury := testAddr(0xBB)
	instance := testAddr(0xEE)

	signerKey, err := repoCrypto.GeneratePrivateKey()
	require.NoError(t, err)
	var signer [20]byte
	copy(signer[:], signerKey.PubKey().Address().Bytes())

	authEngine := authorizer.NewEngine(memory, testChainID, instance)
	authEngine.SetNowFunc(clock.Now)
	require.NoError(t, authEngine.Bootstrap(owner, signer))

	pricingEngine := pricing.NewEngine(memory)
	require.NoError(t, pricingEngine.SetPrice(pricing.Native(), usdAmount(2000), 18, true))

	ledger := bank.NewLedger(memory)

	saleToken := newRPCSaleToken()
	saleEngine := sale.NewEngine(instance)
	saleEngine.SetState(memory)
	saleEngine.SetNowFunc(clock.Now)
	saleEngine.SetSaleToken(saleToken)
	saleEngine.SetAuthorizer(authEngine)
	saleEngine.SetPricing(pricingEngine)
	saleEngine.SetBank(ledger)
	saleEngine.SetKYCProvider(sale.NewKYCRegistry(memory))
	pricingEngine.SetTimelineView(saleEngine)

	params := sale.DefaultParams()
	params.Owner = owner
	params.Treasury = treasury
	params.UnsoldRecipient = testAddr(0xCC)
	params.MinPurchaseUSD = usdAmount(10)
	params.MaxPurchaseUSD = usdAmount(5000)
	params.ReferralEnabled = true
	params.ReferralBps = 500
	params.VoucherEnabled = true
	require.NoError(t, saleEngine.Bootstrap(params))

	require.NoError(t, saleEngine.ConfigureRound(owner, sale.RoundOne, unitAmount(10), unitAmount(10_000), 3600))
	require.NoError(t, saleEngine.ConfigureRound(owner, sale.RoundTwo, unitAmount(5), unitAmount(100_000), 0))

	if cfg.Address == "" {
		cfg.Address = ":0"
	}
	// Tests issue rapid sequential requests; keep the limiter out of the way
	// unless a test configures it on purpose.
	if cfg.RequestsPerMinute == 0 && cfg.Burst == 0 {
		cfg.RequestsPerMinute = 60_000
		cfg.Burst = 1_000
	}
	if cfg.Auth.HMACSecret == "" {
		cfg.Auth = AuthConfig{
			HMACSecret: testSecret,
			Issuer:     testIssuer,
			Audience:   testAudience,
		}
	}
	server := NewServer(saleEngine, pricingEngine, authEngine, cfg, nil)
	httpServer := httptest.NewServer(server.Router())
	t.Cleanup(httpServer.Close)

	return &rpcFixture{
		server:    server,
		http:      httpServer,
		clock:     clock,
		bank:      ledger,
		saleToken: saleToken,
		signerKey: signerKey,
		owner:     owner,
		treasury:  treasury,
		instance:  instance,
	}
}

func (f *rpcFixture) adminToken(t *testing.T, scope string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss":   testIssuer,
		"aud":   testAudience,
		"scope": scope,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

type testResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

func (f *rpcFixture) call(t *testing.T, token, method string, params ...interface{}) testResponse {
	t.Helper()
	payload := map[string]interface{}{
		"jsonrpc": jsonRPCVersion,
		"id":      1,
		"method":  method,
		"params":  params,
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, f.http.URL+"/rpc", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var decoded testResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	require.Equal(t, jsonRPCVersion, decoded.JSONRPC)
	require.NotEmpty(t, resp.Header.Get("X-Request-Id"))
	return decoded
}

func (f *rpcFixture) mustCall(t *testing.T, token, method string, params ...interface{}) json.RawMessage {
	t.Helper()
	resp := f.call(t, token, method, params...)
	require.Nil(t, resp.Error, "method %s: %+v", method, resp.Error)
	return resp.Result
}

func (f *rpcFixture) startMain(t *testing.T) {
	t.Helper()
	token := f.adminToken(t, ScopeAdmin)
	f.mustCall(t, token, "sale_startMain", map[string]interface{}{
		"caller":   encodeAddress(f.owner),
		"duration": 7200,
	})
}

func TestHealthEndpointsServe(t *testing.T) {
	f := newRPCFixture(t, ServerConfig{})

	resp, err := f.http.Client().Get(f.http.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	metrics, err := f.http.Client().Get(f.http.URL + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	require.Equal(t, http.StatusOK, metrics.StatusCode)
}

func TestEnvelopeValidation(t *testing.T) {
	f := newRPCFixture(t, ServerConfig{})

	post := func(body string) testResponse {
		resp, err := f.http.Client().Post(f.http.URL+"/rpc", "application/json", bytes.NewReader([]byte(body)))
		require.NoError(t, err)
		defer resp.Body.Close()
		var decoded testResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
		return decoded
	}

	malformed := post("{not json")
	require.NotNil(t, malformed.Error)
	require.Equal(t, codeParseError, malformed.Error.Code)

	empty := post("")
	require.NotNil(t, empty.Error)
	require.Equal(t, codeInvalidRequest, empty.Error.Code)

	wrongVersion := post(`{"jsonrpc":"1.0","method":"sale_status","id":1}`)
	require.NotNil(t, wrongVersion.Error)
	require.Equal(t, codeInvalidRequest, wrongVersion.Error.Code)

	unknown := post(`{"jsonrpc":"2.0","method":"sale_unknown","id":1}`)
	require.NotNil(t, unknown.Error)
	require.Equal(t, codeMethodNotFound, unknown.Error.Code)
}

func TestAdminMethodsRequireScope(t *testing.T) {
	f := newRPCFixture(t, ServerConfig{})
	params := map[string]interface{}{"caller": encodeAddress(f.owner)}

	missing := f.call(t, "", "sale_pause", params)
	require.NotNil(t, missing.Error)
	require.Equal(t, codeUnauthorized, missing.Error.Code)

	wrongScope := f.call(t, f.adminToken(t, "sale:read"), "sale_pause", params)
	require.NotNil(t, wrongScope.Error)
	require.Equal(t, codeUnauthorized, wrongScope.Error.Code)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":   testIssuer,
		"aud":   testAudience,
		"scope": ScopeAdmin,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("wrong-secret"))
	require.NoError(t, err)
	tampered := f.call(t, forged, "sale_pause", params)
	require.NotNil(t, tampered.Error)
	require.Equal(t, codeUnauthorized, tampered.Error.Code)

	granted := f.mustCall(t, f.adminToken(t, ScopeAdmin), "sale_pause", params)
	var ack ackResult
	require.NoError(t, json.Unmarshal(granted, &ack))
	require.True(t, ack.OK)

	f.mustCall(t, f.adminToken(t, ScopeAdmin), "sale_unpause", params)
}

func TestPurchaseFlowOverRPC(t *testing.T) {
	f := newRPCFixture(t, ServerConfig{})
	f.startMain(t)

	buyer := testAddr(0x01)
	amount := new(big.Int).Div(unitAmount(1), big.NewInt(10)) // 0.1 coin = 200 USD
	require.NoError(t, f.bank.Mint(buyer, amount))

	result := f.mustCall(t, "", "sale_buyNative", map[string]interface{}{
		"buyer":  encodeAddress(buyer),
		"amount": amount.String(),
	})
	var receipt ReceiptResult
	require.NoError(t, json.Unmarshal(result, &receipt))
	require.Equal(t, encodeAddress(buyer), receipt.Buyer)
	require.Equal(t, "NATIVE", receipt.Method)
	require.Equal(t, usdAmount(200).String(), receipt.USDValue)
	require.Equal(t, unitAmount(2000).String(), receipt.Units)
	require.Equal(t, sale.RoundOne, receipt.Round)

	userRaw := f.mustCall(t, "", "sale_user", map[string]interface{}{"address": encodeAddress(buyer)})
	var user UserResult
	require.NoError(t, json.Unmarshal(userRaw, &user))
	require.Equal(t, unitAmount(2000).String(), user.TotalUnits)
	require.Equal(t, usdAmount(200).String(), user.TotalUSD)
	require.False(t, user.Claimed)

	totalsRaw := f.mustCall(t, "", "sale_totals")
	var totals TotalsResult
	require.NoError(t, json.Unmarshal(totalsRaw, &totals))
	require.Equal(t, unitAmount(2000).String(), totals.UnitsSold)
	require.Equal(t, usdAmount(200).String(), totals.USDRaised)

	purchasesRaw := f.mustCall(t, "", "sale_purchases")
	var entries []PurchaseEntryResult
	require.NoError(t, json.Unmarshal(purchasesRaw, &entries))
	require.Len(t, entries, 1)
	require.Equal(t, encodeAddress(buyer), entries[0].Buyer)

	treasuryBalance, err := f.bank.BalanceOf(f.treasury)
	require.NoError(t, err)
	require.Equal(t, 0, treasuryBalance.Cmp(amount))
}

func TestVoucherPurchaseOverRPC(t *testing.T) {
	f := newRPCFixture(t, ServerConfig{})
	f.startMain(t)

	buyer := testAddr(0x02)
	amount := new(big.Int).Div(unitAmount(1), big.NewInt(10))
	require.NoError(t, f.bank.Mint(buyer, amount))

	voucher := authorizer.Voucher{
		Buyer:     buyer,
		PayMethod: "NATIVE",
		USDLimit:  usdAmount(5000),
		Nonce:     7,
		Expiry:    f.clock.Now() + 3600,
		Binding:   f.instance,
	}
	sig, err := authorizer.Sign(voucher, testChainID, f.signerKey)
	require.NoError(t, err)

	result := f.mustCall(t, "", "sale_buyNative", map[string]interface{}{
		"buyer":     encodeAddress(buyer),
		"amount":    amount.String(),
		"voucher":   voucher,
		"signature": "0x" + hex.EncodeToString(sig),
	})
	var receipt ReceiptResult
	require.NoError(t, json.Unmarshal(result, &receipt))
	require.Equal(t, unitAmount(2000).String(), receipt.Units)

	nonceRaw := f.mustCall(t, "", "auth_isNonceConsumed", map[string]interface{}{
		"buyer": encodeAddress(buyer),
		"nonce": 7,
	})
	var consumed nonceResult
	require.NoError(t, json.Unmarshal(nonceRaw, &consumed))
	require.True(t, consumed.Consumed)

	replay := f.call(t, "", "sale_buyNative", map[string]interface{}{
		"buyer":     encodeAddress(buyer),
		"amount":    amount.String(),
		"voucher":   voucher,
		"signature": "0x" + hex.EncodeToString(sig),
	})
	require.NotNil(t, replay.Error)
	require.Equal(t, codeSaleVoucher, replay.Error.Code)
}

func TestQueryMethods(t *testing.T) {
	f := newRPCFixture(t, ServerConfig{})

	roundRaw := f.mustCall(t, "", "sale_round", map[string]interface{}{"id": 1})
	var round RoundResult
	require.NoError(t, json.Unmarshal(roundRaw, &round))
	require.Equal(t, unitAmount(10_000).String(), round.Capacity)
	require.Equal(t, unitAmount(10).String(), round.UnitsPerUSD)

	missing := f.call(t, "", "sale_round", map[string]interface{}{"id": 9})
	require.NotNil(t, missing.Error)
	require.Equal(t, codeSaleNotFound, missing.Error.Code)

	quoteRaw := f.mustCall(t, "", "sale_quote", map[string]interface{}{
		"round":  1,
		"method": "NATIVE",
		"amount": new(big.Int).Div(unitAmount(1), big.NewInt(10)).String(),
	})
	var quote QuoteResult
	require.NoError(t, json.Unmarshal(quoteRaw, &quote))
	require.Equal(t, usdAmount(200).String(), quote.USDValue)
	require.Equal(t, unitAmount(2000).String(), quote.Units)

	priceRaw := f.mustCall(t, "", "price_get", map[string]interface{}{"method": "native"})
	var price priceResult
	require.NoError(t, json.Unmarshal(priceRaw, &price))
	require.Equal(t, "NATIVE", price.Method)
	require.Equal(t, usdAmount(2000).String(), price.PriceUSD)
	require.True(t, price.Active)

	separatorRaw := f.mustCall(t, "", "auth_domainSeparator")
	var separator domainSeparatorResult
	require.NoError(t, json.Unmarshal(separatorRaw, &separator))
	require.Equal(t, authorizer.VoucherDomainV1, separator.Domain)
	require.Equal(t, uint64(testChainID), separator.ChainID)
	require.Len(t, separator.Separator, 66)

	buyBeforeStart := f.call(t, "", "sale_buyNative", map[string]interface{}{
		"buyer":  encodeAddress(testAddr(0x03)),
		"amount": unitAmount(1).String(),
	})
	require.NotNil(t, buyBeforeStart.Error)
	require.Equal(t, codeSaleConflict, buyBeforeStart.Error.Code)

	timelinesRaw := f.mustCall(t, "", "sale_timelines")
	var timelines TimelinesResult
	require.NoError(t, json.Unmarshal(timelinesRaw, &timelines))
	require.Equal(t, "none", timelines.Mode)
	require.False(t, timelines.Status.Paused)
}

func TestRateLimitRejectsBurst(t *testing.T) {
	f := newRPCFixture(t, ServerConfig{RequestsPerMinute: 60, Burst: 1})

	first := f.call(t, "", "sale_status")
	require.Nil(t, first.Error)

	var limited bool
	for i := 0; i < 3; i++ {
		resp := f.call(t, "", "sale_status")
		if resp.Error != nil && resp.Error.Code == codeRateLimited {
			limited = true
			break
		}
	}
	require.True(t, limited, "expected a rate limited response")
}

func TestKYCAdministrationOverRPC(t *testing.T) {
	f := newRPCFixture(t, ServerConfig{})
	f.startMain(t)
	token := f.adminToken(t, ScopeAdmin)

	f.mustCall(t, token, "sale_setKYCRequired", map[string]interface{}{
		"caller":   encodeAddress(f.owner),
		"required": true,
	})

	buyer := testAddr(0x06)
	amount := new(big.Int).Div(unitAmount(1), big.NewInt(10))
	require.NoError(t, f.bank.Mint(buyer, amount))

	blocked := f.call(t, "", "sale_buyNative", map[string]interface{}{
		"buyer":  encodeAddress(buyer),
		"amount": amount.String(),
	})
	require.NotNil(t, blocked.Error)
	require.Equal(t, codeSaleLimit, blocked.Error.Code)

	f.mustCall(t, token, "sale_setKYCVerified", map[string]interface{}{
		"caller":   encodeAddress(f.owner),
		"address":  encodeAddress(buyer),
		"verified": true,
	})

	result := f.mustCall(t, "", "sale_buyNative", map[string]interface{}{
		"buyer":  encodeAddress(buyer),
		"amount": amount.String(),
	})
	var receipt ReceiptResult
	require.NoError(t, json.Unmarshal(result, &receipt))
	require.Equal(t, usdAmount(200).String(), receipt.USDValue)
}

func TestDefaultBurstAllowsSequentialClients(t *testing.T) {
	// Defaulted limiter settings must tolerate a client issuing several
	// back-to-back requests from one address.
	f := newRPCFixture(t, ServerConfig{RequestsPerMinute: 600, Burst: 0})
	require.GreaterOrEqual(t, f.server.cfg.Burst, 8)

	for i := 0; i < 5; i++ {
		resp := f.call(t, "", "sale_status")
		require.Nil(t, resp.Error, "request %d throttled", i)
	}
}

func TestParamShapeErrors(t *testing.T) {
	f := newRPCFixture(t, ServerConfig{})

	tooMany := f.call(t, "", "sale_status", map[string]interface{}{}, map[string]interface{}{})
	require.NotNil(t, tooMany.Error)
	require.Equal(t, codeInvalidParams, tooMany.Error.Code)

	badAddress := f.call(t, "", "sale_user", map[string]interface{}{"address": "not-bech32"})
	require.NotNil(t, badAddress.Error)
	require.Equal(t, codeSaleInvalidParams, badAddress.Error.Code)

	badAmount := f.call(t, "", "sale_buyNative", map[string]interface{}{
		"buyer":  encodeAddress(testAddr(0x04)),
		"amount": "-5",
	})
	require.NotNil(t, badAmount.Error)
	require.Equal(t, codeSaleInvalidParams, badAmount.Error.Code)
}

func TestWithdrawOverRPC(t *testing.T) {
	f := newRPCFixture(t, ServerConfig{})
	f.startMain(t)

	buyer := testAddr(0x05)
	amount := new(big.Int).Div(unitAmount(1), big.NewInt(10))
	require.NoError(t, f.bank.Mint(buyer, amount))
	f.mustCall(t, "", "sale_buyNative", map[string]interface{}{
		"buyer":  encodeAddress(buyer),
		"amount": amount.String(),
	})

	// The full payment already forwarded to the treasury; seed the instance
	// so the sweep has something to move.
	require.NoError(t, f.bank.Mint(f.instance, big.NewInt(1234)))
	token := f.adminToken(t, ScopeAdmin)
	result := f.mustCall(t, token, "sale_withdrawNative", map[string]interface{}{
		"caller": encodeAddress(f.owner),
	})
	var withdrawn withdrawResult
	require.NoError(t, json.Unmarshal(result, &withdrawn))
	require.Equal(t, "1234", withdrawn.Amount)

	expected := new(big.Int).Add(amount, big.NewInt(1234))
	treasuryBalance, err := f.bank.BalanceOf(f.treasury)
	require.NoError(t, err)
	require.Equal(t, 0, treasuryBalance.Cmp(expected))
}
