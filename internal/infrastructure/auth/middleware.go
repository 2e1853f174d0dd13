package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/honeynil/CurrencyExchangeTochka/internal/infrastructure/redis"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID int64
	Role   Role
}

// Actor is the name recorded in the status history for changes made by p.
func (p Principal) Actor() string {
	return string(p.Role) + ":" + strconv.FormatInt(p.UserID, 10)
}

// CanOperate reports whether p may move transactions through the branch workflow.
func (p Principal) CanOperate() bool {
	return p.Role == RoleStaff || p.Role == RoleAdmin
}

type contextKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}

// AuthMiddleware accepts HMAC-signed bearer tokens carrying user_id and role claims.
// When redisClient is set the token must also be the one stored under user:<id>:token, so revoked
// sessions are rejected.
func AuthMiddleware(redisClient redis.RedisClient, jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "authorization header missing", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "invalid authorization header", http.StatusUnauthorized)
				return
			}

			tokenStr := parts[1]
			token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Method.Alg())
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "invalid token claims", http.StatusUnauthorized)
				return
			}

			userID, ok := claims["user_id"].(float64)
			if !ok || userID <= 0 {
				http.Error(w, "invalid user_id in token", http.StatusUnauthorized)
				return
			}

			role := RoleCustomer
			if raw, ok := claims["role"].(string); ok {
				switch Role(raw) {
				case RoleCustomer, RoleStaff, RoleAdmin:
					role = Role(raw)
				default:
					http.Error(w, "invalid role in token", http.StatusUnauthorized)
					return
				}
			}
			p := Principal{UserID: int64(userID), Role: role}

			if redisClient != nil {
				redisKey := fmt.Sprintf("user:%d:token", p.UserID)
				storedToken, err := redisClient.Get(r.Context(), redisKey)
				if err != nil || storedToken != tokenStr {
					slog.Error("invalid or revoked token", "user_id", p.UserID, "error", err)
					http.Error(w, "invalid or revoked token", http.StatusUnauthorized)
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireOperator rejects callers that are not branch staff or administrators.
func RequireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := FromContext(r.Context())
		if !ok || !p.CanOperate() {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects callers that are not administrators.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := FromContext(r.Context())
		if !ok || p.Role != RoleAdmin {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
