package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"crowdsale/native/authorizer"
	"crowdsale/native/pricing"
	"crowdsale/native/sale"
	"crowdsale/observability"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

// Sale-specific error codes, one block per failure family so operator tooling
// can branch without string matching.
const (
	codeSaleInvalidParams = -32041
	codeSaleNotFound      = -32042
	codeSaleForbidden     = -32043
	codeSaleConflict      = -32044
	codeSaleLimit         = -32045
	codeSalePayment       = -32046
	codeSaleVoucher       = -32047
	codeSaleInternal      = -32048
)

// ServerConfig bundles the RPC listener knobs taken from the daemon config.
type ServerConfig struct {
	Address           string
	Auth              AuthConfig
	RequestsPerMinute float64
	Burst             int
}

// RPCRequest is the JSON-RPC 2.0 call envelope.
type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

// RPCResponse is the JSON-RPC 2.0 reply envelope.
type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError carries a structured JSON-RPC failure.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, req *RPCRequest)

// Server exposes the sale, pricing, and authorizer engines over JSON-RPC.
type Server struct {
	sale    *sale.Engine
	pricing *pricing.Engine
	auth    *authorizer.Engine

	authenticator *Authenticator
	logger        *slog.Logger
	cfg           ServerConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	handlers     map[string]handlerFunc
	adminMethods map[string]struct{}
}

// NewServer wires the engines behind a JSON-RPC dispatch table.
func NewServer(saleEngine *sale.Engine, pricingEngine *pricing.Engine, authEngine *authorizer.Engine, cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 600
	}
	if cfg.Burst <= 0 {
		// Allow a second's worth of traffic in one burst so sequential
		// clients are never throttled by the steady-state refill.
		cfg.Burst = int(math.Ceil(cfg.RequestsPerMinute / 60))
		if cfg.Burst < 8 {
			cfg.Burst = 8
		}
	}
	s := &Server{
		sale:          saleEngine,
		pricing:       pricingEngine,
		auth:          authEngine,
		authenticator: NewAuthenticator(cfg.Auth),
		logger:        logger,
		cfg:           cfg,
		limiters:      make(map[string]*rate.Limiter),
	}
	s.registerHandlers()
	return s
}

// Router assembles the HTTP surface: health, metrics, and the RPC endpoint.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Post("/rpc", s.handle)
	return r
}

// Start serves the router until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	s.logger.Info("rpc server listening", "address", s.cfg.Address)
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.NewString()
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-Id", requestID)

	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	method := "unknown"
	defer func() {
		observability.ModuleMetrics().Observe("rpc", method, rec.status, time.Since(start))
	}()

	if !s.allowSource(clientSource(r)) {
		observability.ModuleMetrics().RecordThrottle("rpc", "rate_limit")
		writeError(rec, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(rec, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(rec, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(rec, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(rec, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(rec, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}
	method = req.Method

	handler, ok := s.handlers[req.Method]
	if !ok {
		writeError(rec, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method), nil)
		return
	}
	if _, admin := s.adminMethods[req.Method]; admin {
		if authErr := s.authenticator.Require(r, ScopeAdmin); authErr != nil {
			s.logger.Warn("rpc unauthorized", "method", req.Method, "request_id", requestID)
			writeError(rec, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
	}
	handler(rec, r, req)
}

func (s *Server) allowSource(source string) bool {
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.limiters[source]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.RequestsPerMinute/60.0), s.cfg.Burst)
		s.limiters[source] = limiter
	}
	return limiter.Allow()
}

func clientSource(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			candidate := strings.TrimSpace(parts[0])
			if candidate != "" {
				return candidate
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeSaleError maps engine sentinel errors onto the sale code blocks.
func writeSaleError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, sale.ErrUnauthorized), errors.Is(err, authorizer.ErrUnauthorized):
		writeError(w, http.StatusForbidden, id, codeSaleForbidden, err.Error(), nil)
	case errors.Is(err, sale.ErrRoundNotConfigured),
		errors.Is(err, sale.ErrPaymentTokenUnknown),
		errors.Is(err, pricing.ErrTokenNotAccepted):
		writeError(w, http.StatusNotFound, id, codeSaleNotFound, err.Error(), nil)
	case errors.Is(err, sale.ErrInvalidRound),
		errors.Is(err, sale.ErrInvalidParams),
		errors.Is(err, pricing.ErrInvalidPrice),
		errors.Is(err, pricing.ErrPaymentTooSmall),
		errors.Is(err, pricing.ErrZeroTokenAmount):
		writeError(w, http.StatusBadRequest, id, codeSaleInvalidParams, err.Error(), nil)
	case errors.Is(err, sale.ErrPresaleNotStarted),
		errors.Is(err, sale.ErrWrongMode),
		errors.Is(err, sale.ErrInvalidState),
		errors.Is(err, sale.ErrAlreadyStarted),
		errors.Is(err, sale.ErrTimelineNotEnded),
		errors.Is(err, sale.ErrAlreadyFinalized),
		errors.Is(err, sale.ErrNotCancelled),
		errors.Is(err, sale.ErrCancelled),
		errors.Is(err, sale.ErrLaunchNotReached),
		errors.Is(err, sale.ErrRoundConfigured),
		errors.Is(err, sale.ErrConfigAfterStart),
		errors.Is(err, sale.ErrKYCProviderMissing),
		errors.Is(err, sale.ErrNoActiveSaleEnded),
		errors.Is(err, sale.ErrClaimsNotEnabled),
		errors.Is(err, sale.ErrAlreadyClaimed),
		errors.Is(err, sale.ErrAlreadyRefunded),
		errors.Is(err, sale.ErrNothingToClaim),
		errors.Is(err, sale.ErrNothingToRefund),
		errors.Is(err, pricing.ErrPriceFrozen):
		writeError(w, http.StatusConflict, id, codeSaleConflict, err.Error(), nil)
	case errors.Is(err, sale.ErrInsufficientPayment),
		errors.Is(err, sale.ErrLimitExceeded),
		errors.Is(err, sale.ErrVoucherLimitExceeded),
		errors.Is(err, sale.ErrRoundCapacityExceeded),
		errors.Is(err, sale.ErrSoldOut),
		errors.Is(err, sale.ErrNotWhitelisted),
		errors.Is(err, sale.ErrKYCRequired),
		errors.Is(err, sale.ErrSelfReferral):
		writeError(w, http.StatusUnprocessableEntity, id, codeSaleLimit, err.Error(), nil)
	case errors.Is(err, sale.ErrDeflationaryTokenRejected),
		errors.Is(err, sale.ErrInsufficientPaymentAfterBuffer):
		writeError(w, http.StatusUnprocessableEntity, id, codeSalePayment, err.Error(), nil)
	case errors.Is(err, sale.ErrVoucherDisabled),
		errors.Is(err, sale.ErrVoucherMethodMismatch),
		errors.Is(err, sale.ErrVoucherBuyerMismatch),
		errors.Is(err, authorizer.ErrExpiredVoucher),
		errors.Is(err, authorizer.ErrInvalidSignature),
		errors.Is(err, authorizer.ErrWrongBinding),
		errors.Is(err, authorizer.ErrNonceReused),
		errors.Is(err, authorizer.ErrNilVoucher),
		errors.Is(err, authorizer.ErrNotConfigured):
		writeError(w, http.StatusUnprocessableEntity, id, codeSaleVoucher, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, id, codeSaleInternal, "internal error", err.Error())
	}
}
