package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"ms-reconciler/internal/gateway"
	"ms-reconciler/internal/ledger"
	"ms-reconciler/internal/logger"
	"ms-reconciler/internal/models"
	"ms-reconciler/internal/recon"
	redislock "ms-reconciler/internal/recon/redis"
	"ms-reconciler/internal/utils"
)

type Handler struct {
	Service *recon.Service
	Locker  *redislock.Locker
	HPP     *gateway.HPPBuilder
	Log     *logger.Logger
}

// CreatePayment runs a synchronous gateway operation and reconciles its
// outcome before answering.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req models.PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}
	if req.Kind == "" || req.Currency == "" || req.Amount <= 0 {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", "kind, amount and currency are required"))
		return
	}

	result, err := h.Service.ProcessCall(r.Context(), req)
	if err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Payment call failed", err.Error()))
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Payment processed", result))
}

// GetPayment reads a payment's status. The expiration sweep runs on this
// read path, so stale pending transactions come back already canceled.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentId")
	tenantID := r.Header.Get("X-Tenant-ID")

	status, err := h.Service.GetPaymentStatus(r.Context(), tenantID, paymentID)
	if err != nil {
		if errors.Is(err, ledger.ErrPaymentNotFound) {
			utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Payment not found", paymentID))
			return
		}
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to read payment", err.Error()))
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Payment status", status))
}

// CreateRedirect starts a hosted-page flow: records the pending request and
// returns the signed form fields plus the QR rendering of the redirect URL.
func (h *Handler) CreateRedirect(w http.ResponseWriter, r *http.Request) {
	var req models.RedirectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	resp, err := h.Service.InitiateRedirect(r.Context(), req, h.HPP)
	if err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to initiate redirect", err.Error()))
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Redirect created", resp))
}

// HandleNotification ingests one pushed notification. Processing for the
// same reference is serialized through the Redis lock; a busy reference or a
// processing error answers non-2xx so the gateway redelivers later, which is
// safe because reapplying is a no-op.
func (h *Handler) HandleNotification(w http.ResponseWriter, r *http.Request) {
	var n models.Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid notification body", err.Error()))
		return
	}
	if n.Reference == "" && n.MerchantReference == "" {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid notification body", "reference or merchantReference is required"))
		return
	}

	reference := n.Reference
	if reference == "" {
		reference = n.MerchantReference
	}
	owner := uuid.NewString()

	locked, err := h.Locker.Lock(r.Context(), reference, owner)
	if err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Lock error", err.Error()))
		return
	}
	if !locked {
		utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse("Reference busy", "another delivery for this reference is in flight"))
		return
	}
	defer func() {
		if err := h.Locker.Unlock(r.Context(), reference, owner); err != nil {
			h.Log.Error("REDIS", "failed to release reference lock: "+err.Error())
		}
	}()

	if err := h.Service.ProcessNotification(r.Context(), n); err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Notification processing failed", err.Error()))
		return
	}

	// The fixed acknowledgment body the gateway expects.
	utils.WriteJSON(w, http.StatusOK, map[string]string{"notificationResponse": "[accepted]"})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
