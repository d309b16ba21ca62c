package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// ServiceKeyHeader carries the shared internal service key.
const ServiceKeyHeader = "X-Internal-Service-Key"

// DefaultIssuer is the only issuer accepted on service tokens unless
// configured otherwise.
const DefaultIssuer = "main-backend"

// ServiceTokenType is the required value of the type claim.
const ServiceTokenType = "service"

var (
	ErrMissingCredentials = errors.New("missing service credentials")
	ErrInvalidServiceKey  = errors.New("invalid service key")
	ErrInvalidToken       = errors.New("invalid service token")
	ErrExpiredToken       = errors.New("service token expired")
	ErrNotServiceToken    = errors.New("not a service token")
	ErrInvalidIssuer      = errors.New("invalid token issuer")
)

// AuthConfig configures service authentication. At least one of ServiceKey
// and JWTSecret must be set for requests to be accepted.
type AuthConfig struct {
	ServiceKey string
	JWTSecret  string
	JWTIssuer  string
}

// ServiceClaims are the claims of a service token.
type ServiceClaims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

type clientKey struct{}

// ClientFromContext returns the authenticated client id, if any.
func ClientFromContext(ctx context.Context) string {
	id, _ := ctx.Value(clientKey{}).(string)
	return id
}

// Authenticator verifies callers of the internal API.
type Authenticator struct {
	config AuthConfig
	logger *zap.Logger
}

// NewAuthenticator creates an authenticator.
func NewAuthenticator(cfg AuthConfig, logger *zap.Logger) *Authenticator {
	if cfg.JWTIssuer == "" {
		cfg.JWTIssuer = DefaultIssuer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{config: cfg, logger: logger}
}

// Authenticate checks the service key header first, then a bearer token.
// It returns the client id used for rate limiting.
func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
	if key := r.Header.Get(ServiceKeyHeader); key != "" {
		if a.config.ServiceKey == "" ||
			subtle.ConstantTimeCompare([]byte(key), []byte(a.config.ServiceKey)) != 1 {
			return "", ErrInvalidServiceKey
		}
		return "service-key", nil
	}

	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", ErrMissingCredentials
	}

	claims, err := a.VerifyToken(strings.TrimSpace(token))
	if err != nil {
		return "", err
	}
	if claims.Subject != "" {
		return claims.Subject, nil
	}
	return claims.Issuer, nil
}

// VerifyToken validates an HS256 service token.
func (a *Authenticator) VerifyToken(tokenString string) (*ServiceClaims, error) {
	if a.config.JWTSecret == "" {
		return nil, ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &ServiceClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(a.config.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*ServiceClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Type != ServiceTokenType {
		return nil, ErrNotServiceToken
	}
	if claims.Issuer != a.config.JWTIssuer {
		return nil, ErrInvalidIssuer
	}
	return claims, nil
}

// IssueServiceToken signs a service token for subject valid for ttl.
func IssueServiceToken(secret, issuer, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := ServiceClaims{
		Type: ServiceTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// StatusFor maps an authentication error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrMissingCredentials), errors.Is(err, ErrExpiredToken):
		return http.StatusUnauthorized
	default:
		return http.StatusForbidden
	}
}

// Middleware rejects unauthenticated requests with a JSON error and stores
// the client id on the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client, err := a.Authenticate(r)
		if err != nil {
			a.logger.Warn("Rejected request",
				zap.String("path", r.URL.Path),
				zap.String("remote", r.RemoteAddr),
				zap.Error(err),
			)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(StatusFor(err))
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientKey{}, client)))
	})
}
