package api_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/golang/mock/gomock"
	"github.com/honeynil/CurrencyExchangeTochka/internal/api"
	"github.com/honeynil/CurrencyExchangeTochka/internal/handler"
	"github.com/honeynil/CurrencyExchangeTochka/internal/models"
	"github.com/honeynil/CurrencyExchangeTochka/internal/services/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupRouter(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockExchangeService(ctrl)
	router := api.SetupRouter(handler.NewHandler(svc, nil, nil), nil, "secret")

	serve := func(method, path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	t.Run("HealthIsPublic", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, serve(http.MethodGet, "/api/healthz", "").Code)
	})

	t.Run("ProtectedNeedsToken", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, serve(http.MethodGet, "/api/branches/1/inventory/USD", "").Code)
	})

	t.Run("AuthenticatedRequest", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": 3}).SignedString([]byte("secret"))
		require.NoError(t, err)
		svc.EXPECT().Availability(gomock.Any(), int64(1), models.CurrencyUSD).
			Return(&models.InventorySnapshot{BranchID: 1, Currency: models.CurrencyUSD, OnHand: 500}, nil)

		rec := serve(http.MethodGet, "/api/branches/1/inventory/USD", token)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("Metrics", func(t *testing.T) {
		rec := serve(http.MethodGet, "/metrics", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "http_requests_total")
	})
}
