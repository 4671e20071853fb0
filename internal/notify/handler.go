package notify

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"ms-reconciler/internal/logger"
	"ms-reconciler/internal/models"
	"ms-reconciler/internal/recon"
	redislock "ms-reconciler/internal/recon/redis"
	"ms-reconciler/internal/utils"
)

// Handler is the standalone webhook intake: it accepts batched notification
// pushes from the gateway and feeds each item through reconciliation.
type Handler struct {
	service *recon.Service
	locker  *redislock.Locker
	logger  *logger.Logger
}

func NewHandler(service *recon.Service, locker *redislock.Locker, logger *logger.Logger) *Handler {
	return &Handler{service: service, locker: locker, logger: logger}
}

// NotificationBatch is the gateway's push envelope: deliveries may carry
// several notification items at once.
type NotificationBatch struct {
	Live  bool                  `json:"live"`
	Items []models.Notification `json:"notificationItems"`
}

// HandleBatch processes every item of a delivery. Any item failing makes the
// whole delivery answer non-2xx so the gateway redelivers the batch; items
// that already applied reapply as no-ops.
func (h *Handler) HandleBatch(c *gin.Context) {
	var batch NotificationBatch
	if err := c.ShouldBindJSON(&batch); err != nil {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid notification batch", err.Error()))
		return
	}

	for _, item := range batch.Items {
		if err := h.process(c, item); err != nil {
			h.logger.Error("NOTIFY", "notification delivery failed: "+err.Error())
			c.JSON(http.StatusInternalServerError, utils.ErrorResponse("Notification processing failed", err.Error()))
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"notificationResponse": "[accepted]"})
}

func (h *Handler) process(c *gin.Context, n models.Notification) error {
	reference := n.Reference
	if reference == "" {
		reference = n.MerchantReference
	}
	owner := uuid.NewString()

	locked, err := h.locker.Lock(c.Request.Context(), reference, owner)
	if err != nil {
		return err
	}
	if !locked {
		return redislock.ErrReferenceBusy
	}
	defer func() {
		if err := h.locker.Unlock(c.Request.Context(), reference, owner); err != nil {
			h.logger.Error("REDIS", "failed to release reference lock: "+err.Error())
		}
	}()

	return h.service.ProcessNotification(c.Request.Context(), n)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
