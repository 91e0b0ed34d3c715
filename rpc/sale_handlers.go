package rpc

import (
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"strings"

	"crowdsale/native/authorizer"
	"crowdsale/native/pricing"
	"crowdsale/native/sale"
)

func (s *Server) registerHandlers() {
	s.handlers = map[string]handlerFunc{
		// Configuration and lifecycle (owner capability).
		"sale_configureRound":           s.handleConfigureRound,
		"sale_setPrice":                 s.handleSetPrice,
		"sale_setLimits":                s.handleSetLimits,
		"sale_setGasBuffer":             s.handleSetGasBuffer,
		"sale_setTreasury":              s.handleSetTreasury,
		"sale_setUnsoldRecipient":       s.handleSetUnsoldRecipient,
		"sale_setReferral":              s.handleSetReferral,
		"sale_setWhitelistEnabled":      s.handleSetWhitelistEnabled,
		"sale_setWhitelistAllocation":   s.handleSetWhitelistAllocation,
		"sale_clearWhitelistAllocation": s.handleClearWhitelistAllocation,
		"sale_setKYCRequired":           s.handleSetKYCRequired,
		"sale_setKYCVerified":           s.handleSetKYCVerified,
		"sale_setVoucherEnabled":        s.handleSetVoucherEnabled,
		"sale_pause":                    s.handlePause,
		"sale_unpause":                  s.handleUnpause,
		"sale_startMain":                s.handleStartMain,
		"sale_forceRoundTransition":     s.handleForceRoundTransition,
		"sale_finalize":                 s.handleFinalize,
		"sale_enableClaims":             s.handleEnableClaims,
		"sale_cancel":                   s.handleCancel,
		"sale_withdrawNative":           s.handleWithdrawNative,
		"sale_withdrawToken":            s.handleWithdrawToken,
		"auth_rotateSigner":             s.handleRotateSigner,

		// Public mutations.
		"sale_startEscrow":     s.handleStartEscrow,
		"sale_buyNative":       s.handleBuyNative,
		"sale_buyToken":        s.handleBuyToken,
		"sale_claim":           s.handleClaim,
		"sale_emergencyRefund": s.handleEmergencyRefund,

		// Queries.
		"sale_round":               s.handleRound,
		"sale_user":                s.handleUser,
		"sale_referral":            s.handleReferral,
		"sale_remainingAllocation": s.handleRemainingAllocation,
		"sale_whitelistStatus":     s.handleWhitelistStatus,
		"sale_progress":            s.handleProgress,
		"sale_timeRemaining":       s.handleTimeRemaining,
		"sale_timelines":           s.handleTimelines,
		"sale_totals":              s.handleTotals,
		"sale_status":              s.handleStatus,
		"sale_claimable":           s.handleClaimable,
		"sale_soldOut":             s.handleSoldOut,
		"sale_quote":               s.handleQuote,
		"sale_quoteActive":         s.handleQuoteActive,
		"sale_purchases":           s.handlePurchases,
		"price_get":                s.handlePriceGet,
		"auth_signerConfig":        s.handleSignerConfig,
		"auth_domainSeparator":     s.handleDomainSeparator,
		"auth_isNonceConsumed":     s.handleIsNonceConsumed,
	}
	s.adminMethods = map[string]struct{}{
		"sale_configureRound":           {},
		"sale_setPrice":                 {},
		"sale_setLimits":                {},
		"sale_setGasBuffer":             {},
		"sale_setTreasury":              {},
		"sale_setUnsoldRecipient":       {},
		"sale_setReferral":              {},
		"sale_setWhitelistEnabled":      {},
		"sale_setWhitelistAllocation":   {},
		"sale_clearWhitelistAllocation": {},
		"sale_setKYCRequired":           {},
		"sale_setKYCVerified":           {},
		"sale_setVoucherEnabled":        {},
		"sale_pause":                    {},
		"sale_unpause":                  {},
		"sale_startMain":                {},
		"sale_forceRoundTransition":     {},
		"sale_finalize":                 {},
		"sale_enableClaims":             {},
		"sale_cancel":                   {},
		"sale_withdrawNative":           {},
		"sale_withdrawToken":            {},
		"auth_rotateSigner":             {},
	}
}

// singleParam enforces the convention of exactly one parameter object and
// decodes it into dst. Methods without parameters pass a nil dst.
func singleParam(w http.ResponseWriter, req *RPCRequest, dst interface{}) bool {
	if dst == nil {
		if len(req.Params) > 0 {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
			return false
		}
		return true
	}
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "exactly one parameter object expected", nil)
		return false
	}
	if err := json.Unmarshal(req.Params[0], dst); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return false
	}
	return true
}

type callerParams struct {
	Caller string `json:"caller"`
}

type ackResult struct {
	OK bool `json:"ok"`
}

func (s *Server) callerFromParams(w http.ResponseWriter, req *RPCRequest, value string) ([20]byte, bool) {
	caller, err := parseBech32Address(value)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid caller", err.Error())
		return [20]byte{}, false
	}
	return caller, true
}

type configureRoundParams struct {
	Caller      string `json:"caller"`
	ID          uint8  `json:"id"`
	UnitsPerUSD string `json:"unitsPerUsd"`
	Capacity    string `json:"capacity"`
	Duration    int64  `json:"duration"`
}

func (s *Server) handleConfigureRound(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params configureRoundParams
	if !singleParam(w, req, &params) {
		return
	}
	caller, ok := s.callerFromParams(w, req, params.Caller)
	if !ok {
		return
	}
	unitsPerUSD, err := parsePositiveBigInt(params.UnitsPerUSD)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid unitsPerUsd", err.Error())
		return
	}
	capacity, err := parsePositiveBigInt(params.Capacity)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid capacity", err.Error())
		return
	}
	if err := s.sale.ConfigureRound(caller, params.ID, unitsPerUSD, capacity, params.Duration); err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

type setPriceParams struct {
	Caller   string `json:"caller"`
	Method   string `json:"method"`
	PriceUSD string `json:"priceUsd"`
	Decimals uint8  `json:"decimals"`
	Active   bool   `json:"active"`
}

func (s *Server) handleSetPrice(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params setPriceParams
	if !singleParam(w, req, &params) {
		return
	}
	caller, ok := s.callerFromParams(w, req, params.Caller)
	if !ok {
		return
	}
	price, err := parsePositiveBigInt(params.PriceUSD)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid priceUsd", err.Error())
		return
	}
	method := pricing.MethodFromKey(params.Method)
	if err := s.sale.SetPrice(caller, method, price, params.Decimals, params.Active); err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

type setLimitsParams struct {
	Caller         string `json:"caller"`
	MinPurchaseUSD string `json:"minPurchaseUsd"`
	MaxPurchaseUSD string `json:"maxPurchaseUsd"`
}

func (s *Server) handleSetLimits(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params setLimitsParams
	if !singleParam(w, req, &params) {
		return
	}
	caller, ok := s.callerFromParams(w, req, params.Caller)
	if !ok {
		return
	}
	minUSD, err := parseNonNegativeBigInt(params.MinPurchaseUSD)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid minPurchaseUsd", err.Error())
		return
	}
	maxUSD, err := parsePositiveBigInt(params.MaxPurchaseUSD)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid maxPurchaseUsd", err.Error())
		return
	}
	if err := s.sale.SetLimits(caller, minUSD, maxUSD); err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

type setGasBufferParams struct {
	Caller string `json:"caller"`
	Buffer string `json:"buffer"`
}

func (s *Server) handleSetGasBuffer(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params setGasBufferParams
	if !singleParam(w, req, &params) {
		return
	}
	caller, ok := s.callerFromParams(w, req, params.Caller)
	if !ok {
		return
	}
	buffer, err := parseNonNegativeBigInt(params.Buffer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid buffer", err.Error())
		return
	}
	if err := s.sale.SetGasBuffer(caller, buffer); err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

type addressPairParams struct {
	Caller  string `json:"caller"`
	Address string `json:"address"`
}

func (s *Server) handleSetTreasury(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params addressPairParams
	if !singleParam(w, req, &params) {
		return
	}
	caller, ok := s.callerFromParams(w, req, params.Caller)
	if !ok {
		return
	}
	treasury, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid address", err.Error())
		return
	}
	if err := s.sale.SetTreasury(caller, treasury); err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleSetUnsoldRecipient(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params addressPairParams
	if !singleParam(w, req, &params) {
		return
	}
	caller, ok := s.callerFromParams(w, req, params.Caller)
	if !ok {
		return
	}
	recipient, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid address", err.Error())
		return
	}
	if err := s.sale.SetUnsoldRecipient(caller, recipient); err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

type setReferralParams struct {
	Caller  string `json:"caller"`
	Enabled bool   `json:"enabled"`
	Bps     uint32 `json:"bps"`
}

func (s *Server) handleSetReferral(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params setReferralParams
	if !singleParam(w, req, &params) {
		return
	}
	caller, ok := s.callerFromParams(w, req, params.Caller)
	if !ok {
		return
	}
	if err := s.sale.SetReferral(caller, params.Enabled, params.Bps); err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

type toggleParams struct {
	Caller  string `json:"caller"`
	Enabled bool   `json:"enabled"`
}

func (s *Server) handleSetWhitelistEnabled(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params toggleParams
	if !singleParam(w, req, &params) {
		return
	}
	caller, ok := s.callerFromParams(w, req, params.Caller)
	if !ok {
		return
	}
	if err := s.sale.SetWhitelistEnabled(caller, params.Enabled); err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

type whitelistAllocationParams struct {
	Caller        string `json:"caller"`
	Buyer         string `json:"buyer"`
	AllocationUSD string `json:"allocationUsd"`
}

func (s *Server) handleSetWhitelistAllocation(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params whitelistAllocationParams
	if !singleParam(w, req, &params) {
		return
	}
	caller, ok := s.callerFromParams(w, req, params.Caller)
	if !ok {
		return
	}
	buyer, err := parseBech32Address(params.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid buyer", err.Error())
		return
	}
	allocation, err := parsePositiveBigInt(params.AllocationUSD)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid allocationUsd", err.Error())
		return
	}
	if err := s.sale.SetWhitelistAllocation(caller, buyer, allocation); err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

type whitelistClearParams struct {
	Caller string `json:"caller"`
	Buyer  string `json:"buyer"`
}

func (s *Server) handleClearWhitelistAllocation(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params whitelistClearParams
	if !singleParam(w, req, &params) {
		return
	}
	caller, ok := s.callerFromParams(w, req, params.Caller)
	if !ok {
		return
	}
	buyer, err := parseBech32Address(params.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid buyer", err.Error())
		return
	}
	if err := s.sale.ClearWhitelistAllocation(caller, buyer); err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

type requiredParams struct {
	Caller   string `json:"caller"`
	Required bool   `json:"required"`
}

func (s *Server) handleSetKYCRequired(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params requiredParams
	if !singleParam(w, req, &params) {
		return
	}
	caller, ok := s.callerFromParams(w, req, params.Caller)
	if !ok {
		return
	}
	if err := s.sale.SetKYCRequired(caller, params.Required); err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

type kycVerifiedParams struct {
	Caller   string `json:"caller"`
	Address  string `json:"address"`
	Verified bool   `json:"verified"`
}

func (s *Server) handleSetKYCVerified(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params kycVerifiedParams
	if !singleParam(w, req, &params) {
		return
	}
	caller, ok := s.callerFromParams(w, req, params.Caller)
	if !ok {
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid address", err.Error())
		return
	}
	if err := s.sale.SetKYCVerified(caller, addr, params.Verified); err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleSetVoucherEnabled(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params toggleParams
	if !singleParam(w, req, &params) {
		return
	}
	caller, ok := s.callerFromParams(w, req, params.Caller)
	if !ok {
		return
	}
	if err := s.sale.SetVoucherEnabled(caller, params.Enabled); err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params callerParams
	if !singleParam(w, req, &params) {
		return
	}
	caller, ok := s.callerFromParams(w, req, params.Caller)
	if !ok {
		return
	}
	if err := s.sale.Pause(caller); err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleUnpause(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params callerParams
	if !singleParam(w, req, &params) {
		return
	}
	caller, ok := s.callerFromParams(w, req, params.Caller)
	if !ok {
		return
	}
	if err := s.sale.Unpause(caller); err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

type startMainParams struct {
	Caller   string `json:"caller"`
	Duration int64  `json:"duration"`
}

func (s *Server) handleStartMain(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params startMainParams
	if !singleParam(w, req, &params) {
		return
	}
	caller, ok := s.callerFromParams(w, req, params.Caller)
	if !ok {
		return
	}
	if err := s.sale.StartMain(caller, params.Duration); err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleStartEscrow(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if !singleParam(w, req, nil) {
		return
	}
	if err := s.sale.StartEscrow(); err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleForceRoundTransition(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params callerParams
	if !singleParam(w, req, &params) {
		return
	}
	caller, ok := s.callerFromParams(w, req, params.Caller)
	if !ok {
		return
	}
	if err := s.sale.ForceRoundTransition(caller); err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleFinalize(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params callerParams
	if !singleParam(w, req, &params) {
		return
	}
	caller, ok := s.callerFromParams(w, req, params.Caller)
	if !ok {
		return
	}
	if err := s.sale.Finalize(caller); err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleEnableClaims(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params callerParams
	if !singleParam(w, req, &params) {
		return
	}
	caller, ok := s.callerFromParams(w, req, params.Caller)
	if !ok {
		return
	}
	if err := s.sale.EnableClaims(caller); err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleCancel(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params callerParams
	if !singleParam(w, req, &params) {
		return
	}
	caller, ok := s.callerFromParams(w, req, params.Caller)
	if !ok {
		return
	}
	if err := s.sale.Cancel(caller); err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

type withdrawParams struct {
	Caller string `json:"caller"`
	Token  string `json:"token,omitempty"`
	Amount string `json:"amount,omitempty"`
}

type withdrawResult struct {
	Amount string `json:"amount"`
}

func (s *Server) handleWithdrawNative(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params withdrawParams
	if !singleParam(w, req, &params) {
		return
	}
	caller, ok := s.callerFromParams(w, req, params.Caller)
	if !ok {
		return
	}
	var amount *big.Int
	if strings.TrimSpace(params.Amount) != "" {
		parsed, err := parsePositiveBigInt(params.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid amount", err.Error())
			return
		}
		amount = parsed
	}
	moved, err := s.sale.WithdrawNative(caller, amount)
	if err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, withdrawResult{Amount: bigString(moved)})
}

func (s *Server) handleWithdrawToken(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params withdrawParams
	if !singleParam(w, req, &params) {
		return
	}
	caller, ok := s.callerFromParams(w, req, params.Caller)
	if !ok {
		return
	}
	if strings.TrimSpace(params.Token) == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "token required", nil)
		return
	}
	var amount *big.Int
	if strings.TrimSpace(params.Amount) != "" {
		parsed, err := parsePositiveBigInt(params.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid amount", err.Error())
			return
		}
		amount = parsed
	}
	moved, err := s.sale.WithdrawToken(caller, params.Token, amount)
	if err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, withdrawResult{Amount: bigString(moved)})
}

type rotateSignerParams struct {
	Caller string `json:"caller"`
	Signer string `json:"signer"`
}

func (s *Server) handleRotateSigner(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params rotateSignerParams
	if !singleParam(w, req, &params) {
		return
	}
	caller, ok := s.callerFromParams(w, req, params.Caller)
	if !ok {
		return
	}
	signer, err := parseBech32Address(params.Signer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid signer", err.Error())
		return
	}
	if err := s.auth.RotateSigner(caller, signer); err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

type buyParams struct {
	Buyer     string              `json:"buyer"`
	Token     string              `json:"token,omitempty"`
	Amount    string              `json:"amount"`
	Referrer  string              `json:"referrer,omitempty"`
	Voucher   *authorizer.Voucher `json:"voucher,omitempty"`
	Signature string              `json:"signature,omitempty"`
}

func (s *Server) handleBuyNative(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleBuy(w, req, true)
}

func (s *Server) handleBuyToken(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleBuy(w, req, false)
}

// handleBuy routes the {native,token}×{direct,voucher}×{±referral} entrypoint
// combinations onto the engine.
func (s *Server) handleBuy(w http.ResponseWriter, req *RPCRequest, native bool) {
	var params buyParams
	if !singleParam(w, req, &params) {
		return
	}
	buyer, err := parseBech32Address(params.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid buyer", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid amount", err.Error())
		return
	}
	referrer, err := parseOptionalAddress(params.Referrer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid referrer", err.Error())
		return
	}
	hasReferrer := referrer != ([20]byte{})
	var sig []byte
	if params.Voucher != nil {
		sig, err = parseHexBytes(params.Signature)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid signature", err.Error())
			return
		}
	}
	if !native && strings.TrimSpace(params.Token) == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "token required", nil)
		return
	}

	var receipt *sale.Receipt
	switch {
	case native && params.Voucher != nil && hasReferrer:
		receipt, err = s.sale.BuyWithNativeVoucherReferral(buyer, amount, params.Voucher, sig, referrer)
	case native && params.Voucher != nil:
		receipt, err = s.sale.BuyWithNativeVoucher(buyer, amount, params.Voucher, sig)
	case native && hasReferrer:
		receipt, err = s.sale.BuyWithNativeReferral(buyer, amount, referrer)
	case native:
		receipt, err = s.sale.BuyWithNative(buyer, amount)
	case params.Voucher != nil && hasReferrer:
		receipt, err = s.sale.BuyWithTokenVoucherReferral(buyer, params.Token, amount, params.Voucher, sig, referrer)
	case params.Voucher != nil:
		receipt, err = s.sale.BuyWithTokenVoucher(buyer, params.Token, amount, params.Voucher, sig)
	case hasReferrer:
		receipt, err = s.sale.BuyWithTokenReferral(buyer, params.Token, amount, referrer)
	default:
		receipt, err = s.sale.BuyWithToken(buyer, params.Token, amount)
	}
	if err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, receiptResult(receipt))
}

type claimResult struct {
	Amount string `json:"amount"`
}

func (s *Server) handleClaim(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params callerParams
	if !singleParam(w, req, &params) {
		return
	}
	caller, ok := s.callerFromParams(w, req, params.Caller)
	if !ok {
		return
	}
	amount, err := s.sale.ClaimTokens(caller)
	if err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, claimResult{Amount: bigString(amount)})
}

func (s *Server) handleEmergencyRefund(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params callerParams
	if !singleParam(w, req, &params) {
		return
	}
	caller, ok := s.callerFromParams(w, req, params.Caller)
	if !ok {
		return
	}
	if err := s.sale.EmergencyRefund(caller); err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

type roundParams struct {
	ID uint8 `json:"id"`
}

func (s *Server) handleRound(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params roundParams
	if !singleParam(w, req, &params) {
		return
	}
	round, err := s.sale.RoundInfo(params.ID)
	if err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, roundResult(round))
}

type addressParams struct {
	Address string `json:"address"`
}

func (s *Server) addressFromParams(w http.ResponseWriter, req *RPCRequest) ([20]byte, bool) {
	var params addressParams
	if !singleParam(w, req, &params) {
		return [20]byte{}, false
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid address", err.Error())
		return [20]byte{}, false
	}
	return addr, true
}

func (s *Server) handleUser(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, ok := s.addressFromParams(w, req)
	if !ok {
		return
	}
	record, err := s.sale.UserInfo(addr)
	if err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, userResult(record))
}

func (s *Server) handleReferral(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, ok := s.addressFromParams(w, req)
	if !ok {
		return
	}
	record, err := s.sale.ReferralInfo(addr)
	if err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, referralResult(record))
}

type allocationResult struct {
	RemainingUSD string `json:"remainingUsd"`
}

func (s *Server) handleRemainingAllocation(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, ok := s.addressFromParams(w, req)
	if !ok {
		return
	}
	remaining, err := s.sale.RemainingAllocation(addr)
	if err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, allocationResult{RemainingUSD: bigString(remaining)})
}

type whitelistStatusResult struct {
	Listed        bool   `json:"listed"`
	AllocationUSD string `json:"allocationUsd,omitempty"`
}

func (s *Server) handleWhitelistStatus(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, ok := s.addressFromParams(w, req)
	if !ok {
		return
	}
	listed, allocation, err := s.sale.WhitelistStatus(addr)
	if err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	result := whitelistStatusResult{Listed: listed}
	if listed {
		result.AllocationUSD = bigString(allocation)
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleProgress(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if !singleParam(w, req, nil) {
		return
	}
	overall, err := s.sale.OverallProgressBps()
	if err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	result := ProgressResult{OverallBps: overall}
	if bps, err := s.sale.RoundProgressBps(sale.RoundOne); err == nil {
		result.Round1Bps = bps
	}
	if bps, err := s.sale.RoundProgressBps(sale.RoundTwo); err == nil {
		result.Round2Bps = bps
	}
	writeResult(w, req.ID, result)
}

type timeRemainingResult struct {
	Seconds int64 `json:"seconds"`
}

func (s *Server) handleTimeRemaining(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if !singleParam(w, req, nil) {
		return
	}
	remaining, err := s.sale.TimeRemaining()
	if err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, timeRemainingResult{Seconds: remaining})
}

func (s *Server) handleTimelines(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if !singleParam(w, req, nil) {
		return
	}
	main, escrow, status, err := s.sale.TimelinesStatus()
	if err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	mode, err := s.sale.ActiveMode()
	if err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, TimelinesResult{
		Main:   timelineResult(main),
		Escrow: timelineResult(escrow),
		Mode:   mode.String(),
		Status: statusResult(status),
	})
}

func (s *Server) handleTotals(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if !singleParam(w, req, nil) {
		return
	}
	totals, err := s.sale.TotalsInfo()
	if err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, totalsResult(totals))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if !singleParam(w, req, nil) {
		return
	}
	status, err := s.sale.StatusInfo()
	if err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, statusResult(status))
}

type claimableResult struct {
	Units string `json:"units"`
}

func (s *Server) handleClaimable(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, ok := s.addressFromParams(w, req)
	if !ok {
		return
	}
	claimable, err := s.sale.ClaimableAmount(addr)
	if err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, claimableResult{Units: bigString(claimable)})
}

type soldOutResult struct {
	SoldOut bool `json:"soldOut"`
}

func (s *Server) handleSoldOut(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if !singleParam(w, req, nil) {
		return
	}
	soldOut, err := s.sale.SoldOut()
	if err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, soldOutResult{SoldOut: soldOut})
}

type quoteParams struct {
	Round  uint8  `json:"round,omitempty"`
	Method string `json:"method"`
	Amount string `json:"amount"`
}

func (s *Server) handleQuote(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params quoteParams
	if !singleParam(w, req, &params) {
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid amount", err.Error())
		return
	}
	usd, units, err := s.sale.Quote(params.Round, pricing.MethodFromKey(params.Method), amount)
	if err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, QuoteResult{USDValue: bigString(usd), Units: bigString(units)})
}

func (s *Server) handleQuoteActive(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params quoteParams
	if !singleParam(w, req, &params) {
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid amount", err.Error())
		return
	}
	usd, units, err := s.sale.QuoteActive(pricing.MethodFromKey(params.Method), amount)
	if err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, QuoteResult{USDValue: bigString(usd), Units: bigString(units)})
}

type purchasesParams struct {
	Offset int `json:"offset,omitempty"`
	Limit  int `json:"limit,omitempty"`
}

func (s *Server) handlePurchases(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	params := purchasesParams{}
	if len(req.Params) > 0 {
		if !singleParam(w, req, &params) {
			return
		}
	}
	entries, err := s.sale.Purchases(params.Offset, params.Limit)
	if err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	results := make([]PurchaseEntryResult, 0, len(entries))
	for _, entry := range entries {
		results = append(results, purchaseEntryResult(entry))
	}
	writeResult(w, req.ID, results)
}

type priceGetParams struct {
	Method string `json:"method"`
}

type priceResult struct {
	Method   string `json:"method"`
	PriceUSD string `json:"priceUsd"`
	Decimals uint8  `json:"decimals"`
	Active   bool   `json:"active"`
}

func (s *Server) handlePriceGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params priceGetParams
	if !singleParam(w, req, &params) {
		return
	}
	entry, ok, err := s.pricing.Entry(pricing.MethodFromKey(params.Method))
	if err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeSaleNotFound, "price not configured", params.Method)
		return
	}
	writeResult(w, req.ID, priceResult{
		Method:   entry.Key,
		PriceUSD: bigString(entry.PriceUSD),
		Decimals: entry.Decimals,
		Active:   entry.Active,
	})
}

type signerConfigResult struct {
	Owner  string `json:"owner"`
	Signer string `json:"signer"`
}

func (s *Server) handleSignerConfig(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if !singleParam(w, req, nil) {
		return
	}
	owner, signer, err := s.auth.SignerConfig()
	if err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, signerConfigResult{Owner: encodeAddress(owner), Signer: encodeAddress(signer)})
}

type domainSeparatorResult struct {
	Domain    string `json:"domain"`
	ChainID   uint64 `json:"chainId"`
	Separator string `json:"separator"`
}

func (s *Server) handleDomainSeparator(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if !singleParam(w, req, nil) {
		return
	}
	separator := s.auth.DomainSeparator()
	writeResult(w, req.ID, domainSeparatorResult{
		Domain:    authorizer.VoucherDomainV1,
		ChainID:   s.auth.ChainID(),
		Separator: "0x" + hex.EncodeToString(separator[:]),
	})
}

type nonceParams struct {
	Buyer string `json:"buyer"`
	Nonce uint64 `json:"nonce"`
}

type nonceResult struct {
	Consumed bool `json:"consumed"`
}

func (s *Server) handleIsNonceConsumed(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params nonceParams
	if !singleParam(w, req, &params) {
		return
	}
	buyer, err := parseBech32Address(params.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid buyer", err.Error())
		return
	}
	consumed, err := s.auth.Consumed(buyer, params.Nonce)
	if err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, nonceResult{Consumed: consumed})
}
