package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"storefront-svc/circuitbreaker"
	"storefront-svc/kafka"
	"storefront-svc/middleware"
	"storefront-svc/models"
	"storefront-svc/payments"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type PaymentHandler struct {
	db       *sql.DB
	gateway  *payments.Client
	producer sarama.SyncProducer
	logger   *zap.Logger
}

func NewPaymentHandler(db *sql.DB, gateway *payments.Client, producer sarama.SyncProducer, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{db: db, gateway: gateway, producer: producer, logger: logger}
}

type paymentRequest struct {
	OrderID int `json:"order_id" binding:"required"`
}

// CreateIntent creates a payment intent at the gateway for a pending order
// owned by the caller and stores the intent id on the order.
func (h *PaymentHandler) CreateIntent(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "CreatePaymentIntent")
	defer span.End()

	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID := middleware.UserID(c)
	span.SetAttributes(attribute.Int("order.id", req.OrderID))

	var order models.Order
	err := scanOrder(h.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM orders WHERE id = $1 AND user_id = $2", orderColumns),
		req.OrderID, userID), &order)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to fetch order", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if order.PaymentStatus == models.PaymentStatusPaid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Order is already paid"})
		return
	}

	amountCents := int64(math.Round(order.Total * 100))
	intent, err := h.gateway.CreateIntent(ctx, amountCents, "usd", map[string]string{
		"order_id":     strconv.Itoa(order.ID),
		"order_number": order.OrderNumber,
	})
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			h.logger.Warn("Payment gateway circuit open", zap.Int("order_id", order.ID))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Payment service temporarily unavailable"})
			return
		}
		h.logger.Error("Failed to create payment intent", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Payment service error"})
		return
	}

	if _, err := h.db.ExecContext(ctx,
		"UPDATE orders SET payment_intent_id = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2",
		intent.ID, order.ID); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to store payment intent", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.logger.Info("Payment intent created",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.Int("order_id", order.ID),
		zap.String("intent_id", intent.ID),
	)
	c.JSON(http.StatusOK, gin.H{
		"clientSecret":    intent.ClientSecret,
		"paymentIntentId": intent.ID,
	})
}

// ConfirmPayment re-checks the intent status at the gateway and marks the
// order paid. Confirmation is idempotent; a second call is a no-op.
func (h *PaymentHandler) ConfirmPayment(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "ConfirmPayment")
	defer span.End()

	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID := middleware.UserID(c)
	span.SetAttributes(attribute.Int("order.id", req.OrderID))

	var order models.Order
	err := scanOrder(h.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM orders WHERE id = $1 AND user_id = $2", orderColumns),
		req.OrderID, userID), &order)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to fetch order", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if order.PaymentIntentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No payment intent for this order"})
		return
	}

	intent, err := h.gateway.GetIntent(ctx, order.PaymentIntentID)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Payment service temporarily unavailable"})
			return
		}
		h.logger.Error("Failed to fetch payment intent", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Payment service error"})
		return
	}

	if intent.Status != payments.IntentSucceeded {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Payment not completed"})
		return
	}

	confirmed, err := h.markPaid(ctx, order.PaymentIntentID, "confirm")
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to confirm payment", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if !confirmed {
		// Already paid, nothing else to do
		c.JSON(http.StatusOK, gin.H{"message": "Payment already confirmed"})
		return
	}

	h.logger.Info("Payment confirmed",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.Int("order_id", order.ID),
	)
	c.JSON(http.StatusOK, gin.H{"message": "Payment confirmed"})
}

// Webhook handles asynchronous gateway notifications. The signature is
// verified against the raw body before any state changes.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "PaymentWebhook")
	defer span.End()

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}

	if err := payments.VerifySignature(payload, c.GetHeader(payments.SignatureHeader), payments.WebhookSecret(), time.Now()); err != nil {
		span.RecordError(err)
		h.logger.Warn("Webhook signature verification failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
		return
	}

	var event payments.WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
		return
	}

	span.SetAttributes(attribute.String("webhook.type", event.Type))

	switch event.Type {
	case "payment_intent.succeeded":
		confirmed, err := h.markPaid(ctx, event.Data.Object.ID, "webhook")
		if err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to process webhook", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		if !confirmed {
			h.logger.Info("Duplicate webhook delivery ignored", zap.String("intent_id", event.Data.Object.ID))
		}
	case "payment_intent.payment_failed":
		if _, err := h.db.ExecContext(ctx,
			"UPDATE orders SET payment_status = $1, status = $2, updated_at = CURRENT_TIMESTAMP WHERE payment_intent_id = $3 AND payment_status = $4",
			models.PaymentStatusFailed, models.OrderStatusFailed, event.Data.Object.ID, models.PaymentStatusPending); err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to mark payment failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		middleware.RecordPaymentEvent("failed", "webhook")
	default:
		h.logger.Info("Unhandled webhook event type", zap.String("type", event.Type))
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// markPaid flips the order to paid/confirmed and records offer usage, all in
// one transaction. The payment_status guard in the UPDATE makes repeated
// deliveries harmless: only the first caller sees a row affected.
func (h *PaymentHandler) markPaid(ctx context.Context, intentID, source string) (bool, error) {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var order models.Order
	err = scanOrder(tx.QueryRowContext(ctx,
		fmt.Sprintf(`UPDATE orders SET payment_status = $1, status = $2, updated_at = CURRENT_TIMESTAMP
		WHERE payment_intent_id = $3 AND payment_status <> $1 RETURNING %s`, orderColumns),
		models.PaymentStatusPaid, models.OrderStatusConfirmed, intentID), &order)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}

	if order.OfferID != nil {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO offer_usages (offer_id, user_id, order_number) VALUES ($1, $2, $3)",
			*order.OfferID, order.UserID, order.OrderNumber); err != nil {
			return false, err
		}
		// The payment is already captured at the gateway, so an exhausted
		// offer must not block recording it. Usage is logged either way.
		res, err := tx.ExecContext(ctx,
			"UPDATE offers SET usage_count = usage_count + 1 WHERE id = $1 AND (usage_limit IS NULL OR usage_count < usage_limit)",
			*order.OfferID)
		if err != nil {
			return false, err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			h.logger.Warn("Offer usage limit reached after payment capture",
				zap.Int("offer_id", *order.OfferID),
				zap.String("order_number", order.OrderNumber))
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}

	middleware.RecordPaymentEvent("succeeded", source)

	if h.producer != nil {
		event := models.OrderEvent{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			UserID:      order.UserID,
			Status:      models.OrderStatusConfirmed,
			Total:       order.Total,
			EventType:   "payment_succeeded",
		}
		if err := kafka.PublishEvent(ctx, h.producer, kafka.Topic, event, h.logger); err != nil {
			h.logger.Error("Failed to publish payment event", zap.Error(err))
		}
	}

	return true, nil
}
