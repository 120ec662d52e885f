package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/sheikh-saqib/credit-ledger/internal/models"
	"github.com/sheikh-saqib/credit-ledger/pkg/logger"
)

const (
	RoleAdmin  = "admin"
	RoleTenant = "tenant"
)

// Claims carry the tenant id in Subject and the privilege in Role.
type Claims struct {
	Role string `json:"role"`
	jwt.StandardClaims
}

type callerKey struct{}

func WithCaller(ctx context.Context, caller models.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the caller set by WithAuth. Requests that skipped
// authentication get a caller with no privileges.
func CallerFrom(ctx context.Context) models.Caller {
	caller, _ := ctx.Value(callerKey{}).(models.Caller)
	return caller
}

// NewToken signs an HS256 token for subject with the given role.
func NewToken(secret []byte, subject, role string, ttl time.Duration) (string, error) {
	claims := Claims{
		Role: role,
		StandardClaims: jwt.StandardClaims{
			Subject:   subject,
			IssuedAt:  time.Now().Unix(),
			ExpiresAt: time.Now().Add(ttl).Unix(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func callerFromClaims(claims Claims) (models.Caller, error) {
	switch claims.Role {
	case RoleAdmin:
		return models.Caller{IsAdmin: true, BoundTenant: claims.Subject}, nil
	case RoleTenant:
		if claims.Subject == "" {
			return models.Caller{}, fmt.Errorf("tenant token without subject")
		}
		return models.TenantScoped(claims.Subject), nil
	default:
		return models.Caller{}, fmt.Errorf("unknown role %q", claims.Role)
	}
}

// WithAuth verifies the bearer token and stores the caller in the request
// context. Paths in disabledURLs pass through unauthenticated.
func WithAuth(secret []byte, disabledURLs []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, ignore := range disabledURLs {
				if r.URL.Path == ignore {
					next.ServeHTTP(w, r)
					return
				}
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				logger.Log.Warn("unauthorized request", logger.String("url", r.URL.Path))
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			var claims Claims
			_, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
				}
				return secret, nil
			})
			if err != nil {
				logger.Log.Warn("unauthorized request", logger.String("url", r.URL.Path), logger.Error(err))
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			caller, err := callerFromClaims(claims)
			if err != nil {
				logger.Log.Warn("unauthorized request", logger.String("url", r.URL.Path), logger.Error(err))
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}
