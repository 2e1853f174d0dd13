package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/honeynil/CurrencyExchangeTochka/internal/infrastructure/auth"
	"github.com/honeynil/CurrencyExchangeTochka/internal/models"
	"github.com/honeynil/CurrencyExchangeTochka/internal/money"
	"github.com/honeynil/CurrencyExchangeTochka/internal/notify"
	service "github.com/honeynil/CurrencyExchangeTochka/internal/services"
	pkgerrors "github.com/honeynil/CurrencyExchangeTochka/pkg/errors"
)

const IdempotencyHeader = "Idempotency-Key"

type Sweeper interface {
	SweepNow(ctx context.Context) (service.SweepReport, error)
}

// Idempotency remembers which transaction a client request key produced.
type Idempotency interface {
	Claim(ctx context.Context, key string) (bool, error)
	Complete(ctx context.Context, key, transactionCode string) error
	Release(ctx context.Context, key string) error
	Result(ctx context.Context, key string) (string, error)
}

type Handler struct {
	service     service.ExchangeService
	sweeper     Sweeper
	idempotency Idempotency
}

// NewHandler builds the HTTP handler. idempotency may be nil, in which case the header is ignored.
func NewHandler(s service.ExchangeService, sweeper Sweeper, idempotency Idempotency) *Handler {
	return &Handler{service: s, sweeper: sweeper, idempotency: idempotency}
}

type errorResponse struct {
	Error     string `json:"error"`
	Available string `json:"available,omitempty"`
	Requested string `json:"requested,omitempty"`
	Currency  string `json:"currency,omitempty"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var short *pkgerrors.InsufficientInventoryError
	switch {
	case errors.As(err, &short):
		c := models.Currency(short.Currency)
		h.writeJSON(w, http.StatusConflict, errorResponse{
			Error:     pkgerrors.ErrInsufficientInventory.Error(),
			Available: money.Format(c, short.Available),
			Requested: money.Format(c, short.Requested),
			Currency:  short.Currency,
		})
	case errors.Is(err, pkgerrors.ErrInsufficientInventory),
		errors.Is(err, pkgerrors.ErrSweepInProgress),
		errors.Is(err, pkgerrors.ErrRequestAlreadyProcessed):
		h.writeError(w, http.StatusConflict, err)
	case errors.Is(err, pkgerrors.ErrInvalidTransition):
		h.writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, pkgerrors.ErrTransactionNotFound):
		h.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, pkgerrors.ErrInvalidAmount),
		errors.Is(err, pkgerrors.ErrInvalidBranch),
		errors.Is(err, pkgerrors.ErrInvalidTransactionType),
		errors.Is(err, pkgerrors.ErrInvalidMethod),
		errors.Is(err, pkgerrors.ErrInvalidStatus),
		errors.Is(err, pkgerrors.ErrInvalidCurrency),
		errors.Is(err, pkgerrors.ErrInvalidInput):
		h.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, pkgerrors.ErrTransientStoreConflict),
		errors.Is(err, pkgerrors.ErrRatesUnavailable):
		w.Header().Set("Retry-After", "1")
		h.writeError(w, http.StatusServiceUnavailable, err)
	default:
		slog.Error("request failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}

func (h *Handler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", h.Health).Methods("GET")
}

func (h *Handler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/reservations", h.CreateReservation).Methods("POST")
	r.HandleFunc("/transactions/{code}", h.GetTransaction).Methods("GET")
	r.HandleFunc("/transactions/{code}/cancel", h.CancelTransaction).Methods("POST")
	r.HandleFunc("/branches/{id}/inventory/{currency}", h.GetAvailability).Methods("GET")
	r.Handle("/transactions/{id:[0-9]+}/status", auth.RequireOperator(http.HandlerFunc(h.UpdateStatus))).Methods("POST")
	r.Handle("/admin/sweep", auth.RequireAdmin(http.HandlerFunc(h.Sweep))).Methods("POST")
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type reservationRequest struct {
	UserID   int64  `json:"user_id"`
	BranchID int64  `json:"branch_id"`
	Type     string `json:"type"`
	Quantity string `json:"quantity"`
	Method   string `json:"method"`
}

type transactionResponse struct {
	TransactionCode  string                 `json:"transaction_code"`
	Status           models.StatusType      `json:"status"`
	Type             models.TransactionType `json:"type"`
	BranchID         int64                  `json:"branch_id"`
	AmountFrom       string                 `json:"amount_from"`
	CurrencyFrom     models.Currency        `json:"currency_from"`
	AmountTo         string                 `json:"amount_to"`
	CurrencyTo       models.Currency        `json:"currency_to"`
	Rate             string                 `json:"rate"`
	CommissionAmount string                 `json:"commission_amount"`
	ExpiresAt        time.Time              `json:"expires_at"`
	Delivery         *notify.DeliveryReport `json:"delivery,omitempty"`
}

func newTransactionResponse(tx *models.Transaction) transactionResponse {
	return transactionResponse{
		TransactionCode:  tx.Code,
		Status:           tx.Status,
		Type:             tx.Type,
		BranchID:         tx.BranchID,
		AmountFrom:       money.Format(tx.CurrencyFrom, tx.AmountFrom),
		CurrencyFrom:     tx.CurrencyFrom,
		AmountTo:         money.Format(tx.CurrencyTo, tx.AmountTo),
		CurrencyTo:       tx.CurrencyTo,
		Rate:             tx.ExchangeRate.StringFixed(money.RateScale),
		CommissionAmount: money.Format(money.Base, tx.CommissionAmount),
		ExpiresAt:        tx.ExpiresAt,
	}
}

func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	var req reservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	quantity, err := money.Parse(money.USD, req.Quantity)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %w", pkgerrors.ErrInvalidAmount, err))
		return
	}

	userID := p.UserID
	if req.UserID != 0 && req.UserID != p.UserID {
		if !p.CanOperate() {
			h.writeError(w, http.StatusForbidden, errors.New("cannot reserve on behalf of another user"))
			return
		}
		userID = req.UserID
	}

	key := h.idempotencyKey(r, userID)
	if key != "" {
		claimed, done := h.claim(w, r, key)
		if done {
			return
		}
		if !claimed {
			key = ""
		}
	}

	result, err := h.service.CreateReservation(r.Context(), service.ReservationRequest{
		UserID:   userID,
		BranchID: req.BranchID,
		Type:     models.TransactionType(req.Type),
		Quantity: quantity,
		Method:   models.Method(req.Method),
		Actor:    p.Actor(),
	})
	if err != nil {
		if key != "" {
			if rerr := h.idempotency.Release(context.WithoutCancel(r.Context()), key); rerr != nil {
				slog.Warn("failed to release idempotency key", "key", key, "error", rerr)
			}
		}
		h.writeServiceError(w, err)
		return
	}
	if key != "" {
		if cerr := h.idempotency.Complete(context.WithoutCancel(r.Context()), key, result.Transaction.Code); cerr != nil {
			slog.Warn("failed to record idempotency key", "key", key, "error", cerr)
		}
	}

	resp := newTransactionResponse(result.Transaction)
	resp.Delivery = &result.Delivery
	h.writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) idempotencyKey(r *http.Request, userID int64) string {
	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key == "" || h.idempotency == nil {
		return ""
	}
	return strconv.FormatInt(userID, 10) + ":" + key
}

// claim takes the idempotency key. It reports claimed=true when this request owns the key,
// and done=true when a response has already been written.
func (h *Handler) claim(w http.ResponseWriter, r *http.Request, key string) (claimed, done bool) {
	ok, err := h.idempotency.Claim(r.Context(), key)
	if err != nil {
		slog.Warn("idempotency store unavailable, proceeding without it", "error", err)
		return false, false
	}
	if ok {
		return true, false
	}

	code, err := h.idempotency.Result(r.Context(), key)
	if err != nil || code == "" {
		h.writeError(w, http.StatusConflict, pkgerrors.ErrRequestAlreadyProcessed)
		return false, true
	}
	view, err := h.service.GetTransaction(r.Context(), code)
	if err != nil {
		h.writeServiceError(w, err)
		return false, true
	}
	h.writeJSON(w, http.StatusOK, newTransactionResponse(view.Transaction))
	return false, true
}

// visible loads a transaction by code, hiding other customers' transactions.
func (h *Handler) visible(r *http.Request, p auth.Principal) (*service.TransactionView, error) {
	view, err := h.service.GetTransaction(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		return nil, err
	}
	if !p.CanOperate() && view.Transaction.UserID != p.UserID {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	return view, nil
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	view, err := h.visible(r, p)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) CancelTransaction(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	view, err := h.visible(r, p)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	result, err := h.service.TransitionStatus(r.Context(), view.Transaction.ID, models.StatusCancelled, p.Actor())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, errors.New("invalid transaction id"))
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	status := models.StatusType(req.Status)
	if !status.Valid() {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %q", pkgerrors.ErrInvalidStatus, req.Status))
		return
	}

	result, err := h.service.TransitionStatus(r.Context(), id, status, p.Actor())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

type availabilityResponse struct {
	BranchID  int64           `json:"branch_id"`
	Currency  models.Currency `json:"currency"`
	OnHand    string          `json:"on_hand"`
	Reserved  string          `json:"reserved"`
	Available string          `json:"available"`
}

func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	branchID, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, errors.New("invalid branch id"))
		return
	}
	currency := models.Currency(strings.ToUpper(vars["currency"]))

	snap, err := h.service.Availability(r.Context(), branchID, currency)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, availabilityResponse{
		BranchID:  snap.BranchID,
		Currency:  snap.Currency,
		OnHand:    money.Format(snap.Currency, snap.OnHand),
		Reserved:  money.Format(snap.Currency, snap.Reserved),
		Available: money.Format(snap.Currency, snap.Available()),
	})
}

func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.sweeper.SweepNow(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}
