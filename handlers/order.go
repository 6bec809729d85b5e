package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"storefront-svc/cache"
	"storefront-svc/kafka"
	"storefront-svc/middleware"
	"storefront-svc/models"
	"storefront-svc/promotions"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Checkout pricing rules.
const (
	freeShippingThreshold = 100.0
	flatShippingFee       = 10.0
	taxRate               = 0.08
)

const orderColumns = "id, order_number, user_id, status, payment_status, payment_intent_id, subtotal, shipping, tax, discount, total, offer_id, ship_name, ship_street, ship_city, ship_state, ship_zip, created_at, updated_at"

type OrderHandler struct {
	db          *sql.DB
	redisClient *redis.Client
	producer    sarama.SyncProducer
	logger      *zap.Logger
}

func NewOrderHandler(db *sql.DB, redisClient *redis.Client, producer sarama.SyncProducer, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{db: db, redisClient: redisClient, producer: producer, logger: logger}
}

func newOrderNumber() string {
	return "ORD-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

func scanOrder(row rowScanner, o *models.Order) error {
	var offerID sql.NullInt64
	if err := row.Scan(&o.ID, &o.OrderNumber, &o.UserID, &o.Status, &o.PaymentStatus,
		&o.PaymentIntentID, &o.Subtotal, &o.Shipping, &o.Tax, &o.Discount, &o.Total, &offerID,
		&o.ShippingAddress.Name, &o.ShippingAddress.Street, &o.ShippingAddress.City,
		&o.ShippingAddress.State, &o.ShippingAddress.ZipCode, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return err
	}
	if offerID.Valid {
		v := int(offerID.Int64)
		o.OfferID = &v
	}
	return nil
}

// CreateOrder validates the cart, reserves stock, prices the order and
// persists it, all inside one transaction. Row locks on the products make the
// reservation all-or-nothing: any rejected item rolls back every decrement.
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "CreateOrder")
	defer span.End()

	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := middleware.UserID(c)
	span.SetAttributes(
		attribute.Int("user.id", userID),
		attribute.Int("order.items", len(req.Items)),
	)

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to begin transaction", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer tx.Rollback()

	var subtotal float64
	orderItems := make([]models.OrderItem, 0, len(req.Items))
	cartItems := make([]promotions.CartItem, 0, len(req.Items))
	productIDs := make([]string, 0, len(req.Items))

	for _, item := range req.Items {
		var (
			name             string
			category         string
			price            float64
			stock            int
			minOrderQuantity int
			isActive         bool
		)
		err := tx.QueryRowContext(ctx,
			"SELECT name, category, price, stock, min_order_quantity, is_active FROM products WHERE id = $1 FOR UPDATE",
			item.ProductID,
		).Scan(&name, &category, &price, &stock, &minOrderQuantity, &isActive)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && !isActive) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Product not found: %d", item.ProductID)})
			return
		}
		if err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to fetch product", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}

		if item.Quantity < minOrderQuantity {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("Minimum order quantity for %s is %d", name, minOrderQuantity),
			})
			return
		}
		if stock < item.Quantity {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("Insufficient stock for %s. Available: %d", name, stock),
			})
			return
		}

		var customizationCost float64
		for _, custom := range item.Customizations {
			customizationCost += custom.AdditionalCost
		}

		subtotal += (price + customizationCost) * float64(item.Quantity)

		if _, err := tx.ExecContext(ctx,
			"UPDATE products SET stock = stock - $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2",
			item.Quantity, item.ProductID); err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to reserve stock", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}

		orderItems = append(orderItems, models.OrderItem{
			ProductID:      item.ProductID,
			ProductName:    name,
			Quantity:       item.Quantity,
			Price:          price,
			Customizations: item.Customizations,
		})
		cartItems = append(cartItems, promotions.CartItem{
			ProductID: item.ProductID,
			Category:  category,
			Quantity:  item.Quantity,
			Price:     price,
		})
		productIDs = append(productIDs, strconv.Itoa(item.ProductID))
	}

	subtotal = promotions.Round2(subtotal)

	var discount float64
	var offerID *int
	if req.OfferCode != "" {
		offer, err := loadOfferByCode(ctx, tx, req.OfferCode)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid offer code"})
				return
			}
			span.RecordError(err)
			h.logger.Error("Failed to fetch offer", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}

		usage, err := userUsageCount(ctx, tx, offer.ID, userID)
		if err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to count offer usage", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}

		result := promotions.Evaluate(offer, cartItems, subtotal, usage, time.Now())
		if !result.Valid {
			c.JSON(http.StatusBadRequest, gin.H{"error": result.Reason})
			return
		}
		discount = result.Discount
		offerID = &offer.ID
	}

	shipping := flatShippingFee
	if subtotal > freeShippingThreshold {
		shipping = 0
	}
	tax := promotions.Round2(subtotal * taxRate)
	total := promotions.Round2(subtotal + shipping + tax - discount)

	var order models.Order
	err = scanOrder(tx.QueryRowContext(ctx,
		fmt.Sprintf(`INSERT INTO orders (order_number, user_id, subtotal, shipping, tax, discount, total, offer_id, ship_name, ship_street, ship_city, ship_state, ship_zip)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) RETURNING %s`, orderColumns),
		newOrderNumber(), userID, subtotal, shipping, tax, discount, total, offerID,
		req.ShippingAddress.Name, req.ShippingAddress.Street, req.ShippingAddress.City,
		req.ShippingAddress.State, req.ShippingAddress.ZipCode,
	), &order)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to create order", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	for i := range orderItems {
		customizations, err := json.Marshal(orderItems[i].Customizations)
		if err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to marshal customizations", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		err = tx.QueryRowContext(ctx,
			"INSERT INTO order_items (order_id, product_id, quantity, price, customizations) VALUES ($1, $2, $3, $4, $5) RETURNING id",
			order.ID, orderItems[i].ProductID, orderItems[i].Quantity, orderItems[i].Price, customizations,
		).Scan(&orderItems[i].ID)
		if err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to create order item", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to commit order", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	order.Items = orderItems

	// Stock changed, drop stale cache entries
	cache.DeleteProducts(ctx, h.redisClient, productIDs)

	middleware.RecordOrderCreated()
	span.SetAttributes(attribute.Int("order.id", order.ID))

	h.publishEvent(ctx, models.OrderEvent{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      order.Status,
		Total:       order.Total,
		EventType:   "order_created",
	})

	h.logger.Info("Order created",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.Int("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
	)
	c.JSON(http.StatusCreated, order)
}

func (h *OrderHandler) GetOrders(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "GetOrders")
	defer span.End()

	userID := middleware.UserID(c)

	var total int
	if err := h.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders WHERE user_id = $1", userID).Scan(&total); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to count orders", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	page, limit, offset := pageParams(c)
	rows, err := h.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM orders WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3", orderColumns),
		userID, limit, offset)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to fetch orders", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		var o models.Order
		if err := scanOrder(rows, &o); err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to scan order", zap.Error(err))
			continue
		}
		orders = append(orders, o)
	}

	c.JSON(http.StatusOK, gin.H{
		"orders":      orders,
		"total":       total,
		"totalPages":  totalPages(total, limit),
		"currentPage": page,
	})
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "GetOrder")
	defer span.End()

	orderID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}
	userID := middleware.UserID(c)
	span.SetAttributes(attribute.Int("order.id", orderID))

	var order models.Order
	err = scanOrder(h.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM orders WHERE id = $1 AND user_id = $2", orderColumns),
		orderID, userID), &order)
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

	items, err := h.loadItems(ctx, order.ID)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to fetch order items", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	order.Items = items

	c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) loadItems(ctx context.Context, orderID int) ([]models.OrderItem, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT oi.id, oi.product_id, p.name, oi.quantity, oi.price, oi.customizations
		FROM order_items oi JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = $1 ORDER BY oi.id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		var customizations []byte
		if err := rows.Scan(&item.ID, &item.ProductID, &item.ProductName, &item.Quantity, &item.Price, &customizations); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(customizations, &item.Customizations); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// CancelOrder is only permitted while the order is still pending; it restores
// the reserved stock of every line item in the same transaction.
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "CancelOrder")
	defer span.End()

	orderID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}
	userID := middleware.UserID(c)
	span.SetAttributes(attribute.Int("order.id", orderID))

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to begin transaction", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer tx.Rollback()

	var order models.Order
	err = scanOrder(tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM orders WHERE id = $1 AND user_id = $2 FOR UPDATE", orderColumns),
		orderID, userID), &order)
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

	if order.Status != models.OrderStatusPending {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Order cannot be cancelled"})
		return
	}

	rows, err := tx.QueryContext(ctx, "SELECT product_id, quantity FROM order_items WHERE order_id = $1", order.ID)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to fetch order items", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	type restore struct{ productID, quantity int }
	var restores []restore
	for rows.Next() {
		var r restore
		if err := rows.Scan(&r.productID, &r.quantity); err != nil {
			rows.Close()
			span.RecordError(err)
			h.logger.Error("Failed to scan order item", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		restores = append(restores, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to read order items", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	productIDs := make([]string, 0, len(restores))
	for _, r := range restores {
		if _, err := tx.ExecContext(ctx,
			"UPDATE products SET stock = stock + $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2",
			r.quantity, r.productID); err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to restore stock", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		productIDs = append(productIDs, strconv.Itoa(r.productID))
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2",
		models.OrderStatusCancelled, order.ID); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to cancel order", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to commit cancellation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	order.Status = models.OrderStatusCancelled

	cache.DeleteProducts(ctx, h.redisClient, productIDs)

	h.publishEvent(ctx, models.OrderEvent{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      order.Status,
		Total:       order.Total,
		EventType:   "order_cancelled",
	})

	h.logger.Info("Order cancelled",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.Int("order_id", order.ID),
	)
	c.JSON(http.StatusOK, gin.H{
		"message": "Order cancelled successfully",
		"order":   order,
	})
}

func (h *OrderHandler) publishEvent(ctx context.Context, event models.OrderEvent) {
	if h.producer == nil {
		return
	}
	if err := kafka.PublishEvent(ctx, h.producer, kafka.Topic, event, h.logger); err != nil {
		// Don't fail the request, but log the error
		h.logger.Error("Failed to publish order event", zap.Error(err))
	}
}
