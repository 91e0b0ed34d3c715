package rpc

import (
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// ScopeAdmin gates every owner-capability method exposed over RPC.
const ScopeAdmin = "sale:admin"

// AuthConfig controls bearer-token validation for privileged methods.
type AuthConfig struct {
	HMACSecret string
	Issuer     string
	Audience   string
	ScopeClaim string
	ClockSkew  time.Duration
}

// Authenticator validates HMAC-signed JWTs presented by operator tooling.
type Authenticator struct {
	cfg    AuthConfig
	secret []byte
}

// NewAuthenticator builds an authenticator with the config defaults filled.
func NewAuthenticator(cfg AuthConfig) *Authenticator {
	if cfg.ScopeClaim == "" {
		cfg.ScopeClaim = "scope"
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{cfg: cfg, secret: []byte(strings.TrimSpace(cfg.HMACSecret))}
}

// Require validates the request's bearer token and checks the supplied scope.
// A nil return means the caller is authorized.
func (a *Authenticator) Require(r *http.Request, scope string) *RPCError {
	if a == nil || len(a.secret) == 0 {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication not configured"}
	}
	token := extractBearer(r.Header.Get("Authorization"))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	claims, err := a.parseToken(token)
	if err != nil {
		return &RPCError{Code: codeUnauthorized, Message: "invalid token", Data: err.Error()}
	}
	if err := a.validateClaims(claims); err != nil {
		return &RPCError{Code: codeUnauthorized, Message: "invalid token", Data: err.Error()}
	}
	if scope != "" && !hasScope(extractScopes(claims, a.cfg.ScopeClaim), scope) {
		return &RPCError{Code: codeUnauthorized, Message: "insufficient scope", Data: scope}
	}
	return nil
}

func (a *Authenticator) parseToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(a.cfg.ClockSkew))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("unexpected claims type")
	}
	return claims, nil
}

func (a *Authenticator) validateClaims(claims jwt.MapClaims) error {
	if a.cfg.Issuer != "" {
		issuer, err := claims.GetIssuer()
		if err != nil || issuer != a.cfg.Issuer {
			return errors.New("issuer mismatch")
		}
	}
	if a.cfg.Audience != "" {
		audience, err := claims.GetAudience()
		if err != nil {
			return errors.New("audience missing")
		}
		found := false
		for _, aud := range audience {
			if aud == a.cfg.Audience {
				found = true
				break
			}
		}
		if !found {
			return errors.New("audience mismatch")
		}
	}
	return nil
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func extractScopes(claims jwt.MapClaims, claimName string) []string {
	raw, ok := claims[claimName]
	if !ok {
		return nil
	}
	switch value := raw.(type) {
	case string:
		return strings.Fields(value)
	case []interface{}:
		scopes := make([]string, 0, len(value))
		for _, entry := range value {
			if s, ok := entry.(string); ok {
				scopes = append(scopes, s)
			}
		}
		return scopes
	default:
		return nil
	}
}

func hasScope(scopes []string, required string) bool {
	for _, scope := range scopes {
		if scope == required {
			return true
		}
	}
	return false
}
