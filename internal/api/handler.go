package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ms-buddycart/internal/auth"
	"ms-buddycart/internal/logger"
	"ms-buddycart/internal/models"
	"ms-buddycart/internal/sse"

	"github.com/go-chi/chi/v5"
)

type QueueService interface {
	Enqueue(ctx context.Context, req models.EnqueueRequest) (*models.EnqueueResult, error)
	GetQueueStatus(ctx context.Context, userID, entryID string) (*models.QueueStatus, error)
	LeaveQueue(ctx context.Context, userID, entryID string) error
	ExtendTimeout(ctx context.Context, userID, entryID string, additional int) (*models.QueueStatus, error)
	CheckReadiness(ctx context.Context, req models.ReadinessRequest) (*models.Readiness, error)
	QueueStats(ctx context.Context, req models.QueueStatsRequest) (*models.QueueStats, error)
	DetailedStatus(ctx context.Context, userID, entryID string) (*models.DetailedQueueStatus, error)
}

type OrderAssembler interface {
	CreateUserOrders(ctx context.Context, clubbedOrderID string) ([]models.UserOrder, error)
}

type PaymentService interface {
	Commit(ctx context.Context, userID string, req models.CommitRequest) (*models.UserOrder, error)
	ConfirmPayment(ctx context.Context, userID string, req models.ConfirmRequest) (*models.PaymentTransaction, error)
	GetPaymentSummary(ctx context.Context, userID, clubbedOrderID string) (*models.PaymentSummary, error)
	GetCommitmentStatus(ctx context.Context, userID, clubbedOrderID string) (*models.CommitmentStatus, error)
	ListTransactions(ctx context.Context, userID, userOrderID string) ([]models.PaymentTransaction, error)
	ListMyOrders(ctx context.Context, userID string) ([]models.UserOrder, error)
	IsParticipant(ctx context.Context, userID, clubbedOrderID string) error
}

type Canceller interface {
	Cancel(ctx context.Context, userID string, req models.CancelRequest) (*models.CancelResult, error)
}

type NotificationSource interface {
	Subscribe(ctx context.Context, userID string) <-chan sse.Notification
}

// Handler serves the buddy queue and split payment endpoints.
type Handler struct {
	Queue     QueueService
	Assembler OrderAssembler
	Payments  PaymentService
	Cancels   Canceller
	Logger    *logger.Logger

	// Notifications is optional; without it the event stream is not served.
	Notifications NotificationSource
}

// RegisterRoutes registers the authenticated API routes on a chi router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/club", func(r chi.Router) {
		r.Post("/readiness", h.CheckReadiness)
		r.Post("/queue-stats", h.QueueStats)
		r.Post("/queue", h.Enqueue)
		r.Get("/queue/{entryId}", h.GetQueueStatus)
		r.Get("/queue/{entryId}/detail", h.DetailedStatus)
		r.Delete("/queue/{entryId}", h.LeaveQueue)
		r.Post("/queue/{entryId}/extend", h.ExtendTimeout)
		if h.Notifications != nil {
			r.Get("/events", h.StreamEvents)
		}
	})
	r.Route("/split-payment", func(r chi.Router) {
		r.Post("/orders/{clubbedOrderId}", h.CreateUserOrders)
		r.Get("/orders", h.ListMyOrders)
		r.Post("/commit", h.Commit)
		r.Post("/confirm", h.ConfirmPayment)
		r.Post("/cancel", h.Cancel)
		r.Get("/summary/{clubbedOrderId}", h.GetPaymentSummary)
		r.Get("/status/{clubbedOrderId}", h.GetCommitmentStatus)
		r.Get("/transactions/{userOrderId}", h.ListTransactions)
	})
}

func sendJSONResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func decode(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", models.ErrInvalidRequest, err)
	}
	return nil
}

func (h *Handler) CheckReadiness(w http.ResponseWriter, r *http.Request) {
	var req models.ReadinessRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	req.UserID = auth.UserID(r.Context())
	res, err := h.Queue.CheckReadiness(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, res)
}

func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	var req models.QueueStatsRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	req.UserID = auth.UserID(r.Context())
	res, err := h.Queue.QueueStats(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, res)
}

func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req models.EnqueueRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	req.UserID = auth.UserID(r.Context())

	res, err := h.Queue.Enqueue(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Refreshed {
		status = http.StatusOK
	}
	h.Logger.LogAPI(r.Method, r.URL.Path, fmt.Sprint(status), time.Since(start).String())
	sendJSONResponse(w, status, res)
}

func (h *Handler) GetQueueStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.Queue.GetQueueStatus(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "entryId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, st)
}

func (h *Handler) DetailedStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.Queue.DetailedStatus(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "entryId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, st)
}

func (h *Handler) LeaveQueue(w http.ResponseWriter, r *http.Request) {
	if err := h.Queue.LeaveQueue(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "entryId")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ExtendTimeout(w http.ResponseWriter, r *http.Request) {
	var req models.ExtendRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	st, err := h.Queue.ExtendTimeout(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "entryId"), req.AdditionalMinutes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, st)
}

func (h *Handler) CreateUserOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clubbedOrderID := chi.URLParam(r, "clubbedOrderId")
	if err := h.Payments.IsParticipant(ctx, auth.UserID(ctx), clubbedOrderID); err != nil {
		h.writeError(w, r, err)
		return
	}
	orders, err := h.Assembler.CreateUserOrders(ctx, clubbedOrderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, orders)
}

func (h *Handler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.Payments.ListMyOrders(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if orders == nil {
		orders = []models.UserOrder{}
	}
	sendJSONResponse(w, http.StatusOK, orders)
}

func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	var req models.CommitRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	uo, err := h.Payments.Commit(r.Context(), auth.UserID(r.Context()), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, uo)
}

func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req models.ConfirmRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	txn, err := h.Payments.ConfirmPayment(r.Context(), auth.UserID(r.Context()), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, txn)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req models.CancelRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.Cancels.Cancel(r.Context(), auth.UserID(r.Context()), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, res)
}

func (h *Handler) GetPaymentSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Payments.GetPaymentSummary(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "clubbedOrderId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, summary)
}

func (h *Handler) GetCommitmentStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.Payments.GetCommitmentStatus(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "clubbedOrderId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, st)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.Payments.ListTransactions(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "userOrderId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if txs == nil {
		txs = []models.PaymentTransaction{}
	}
	sendJSONResponse(w, http.StatusOK, txs)
}
