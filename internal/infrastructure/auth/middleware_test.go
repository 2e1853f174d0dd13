package auth_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/golang/mock/gomock"
	"github.com/honeynil/CurrencyExchangeTochka/internal/infrastructure/auth"
	"github.com/honeynil/CurrencyExchangeTochka/internal/infrastructure/redis/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func sign(t *testing.T, claims jwt.MapClaims, key string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return token
}

func echoPrincipal() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.FromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(p.Actor()))
	})
}

func TestAuthMiddleware(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	client := mocks.NewMockRedisClient(ctrl)
	h := auth.AuthMiddleware(client, secret)(echoPrincipal())

	do := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	t.Run("ValidStaffToken", func(t *testing.T) {
		token := sign(t, jwt.MapClaims{"user_id": 12, "role": "staff"}, secret)
		client.EXPECT().Get(gomock.Any(), "user:12:token").Return(token, nil)

		rec := do("Bearer " + token)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "staff:12", rec.Body.String())
	})

	t.Run("RoleDefaultsToCustomer", func(t *testing.T) {
		token := sign(t, jwt.MapClaims{"user_id": 5}, secret)
		client.EXPECT().Get(gomock.Any(), "user:5:token").Return(token, nil)

		rec := do("Bearer " + token)
		assert.Equal(t, "customer:5", rec.Body.String())
	})

	t.Run("MissingHeader", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, do("").Code)
	})

	t.Run("WrongSecret", func(t *testing.T) {
		token := sign(t, jwt.MapClaims{"user_id": 5}, "other")
		assert.Equal(t, http.StatusUnauthorized, do("Bearer "+token).Code)
	})

	t.Run("UnknownRole", func(t *testing.T) {
		token := sign(t, jwt.MapClaims{"user_id": 5, "role": "root"}, secret)
		assert.Equal(t, http.StatusUnauthorized, do("Bearer "+token).Code)
	})

	t.Run("RevokedToken", func(t *testing.T) {
		token := sign(t, jwt.MapClaims{"user_id": 5}, secret)
		client.EXPECT().Get(gomock.Any(), "user:5:token").Return("", errors.New("key not found"))

		assert.Equal(t, http.StatusUnauthorized, do("Bearer "+token).Code)
	})
}

func TestRequireAdmin(t *testing.T) {
	h := auth.RequireAdmin(echoPrincipal())

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req.WithContext(auth.WithPrincipal(req.Context(), auth.Principal{UserID: 1, Role: auth.RoleStaff})))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req.WithContext(auth.WithPrincipal(req.Context(), auth.Principal{UserID: 1, Role: auth.RoleAdmin})))
	assert.Equal(t, http.StatusOK, rec.Code)
}
