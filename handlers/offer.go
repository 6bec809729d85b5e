package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"storefront-svc/middleware"
	"storefront-svc/models"
	"storefront-svc/promotions"

	"github.com/gin-gonic/gin"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const offerColumns = "id, code, title, description, type, value, minimum_order_amount, maximum_discount, usage_limit, usage_count, user_usage_limit, start_date, end_date, is_active, is_public, created_at"

// querier is satisfied by both *sql.DB and *sql.Tx so offer lookups can run
// inside the order transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type OfferHandler struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewOfferHandler(db *sql.DB, logger *zap.Logger) *OfferHandler {
	return &OfferHandler{db: db, logger: logger}
}

func scanOffer(row rowScanner, o *models.Offer) error {
	var maxDiscount sql.NullFloat64
	var usageLimit sql.NullInt64
	if err := row.Scan(&o.ID, &o.Code, &o.Title, &o.Description, &o.Type, &o.Value,
		&o.MinimumOrderAmount, &maxDiscount, &usageLimit, &o.UsageCount, &o.UserUsageLimit,
		&o.StartDate, &o.EndDate, &o.IsActive, &o.IsPublic, &o.CreatedAt); err != nil {
		return err
	}
	if maxDiscount.Valid {
		v := maxDiscount.Float64
		o.MaximumDiscount = &v
	}
	if usageLimit.Valid {
		v := int(usageLimit.Int64)
		o.UsageLimit = &v
	}
	return nil
}

// loadOfferByCode fetches an offer and its applicability scope. It returns
// sql.ErrNoRows when the code is unknown.
func loadOfferByCode(ctx context.Context, q querier, code string) (*models.Offer, error) {
	var offer models.Offer
	err := scanOffer(q.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM offers WHERE code = $1", offerColumns),
		models.NormalizeCode(code)), &offer)
	if err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, "SELECT product_id FROM offer_products WHERE offer_id = $1", offer.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		offer.ApplicableProducts = append(offer.ApplicableProducts, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	catRows, err := q.QueryContext(ctx, "SELECT category FROM offer_categories WHERE offer_id = $1", offer.ID)
	if err != nil {
		return nil, err
	}
	defer catRows.Close()
	for catRows.Next() {
		var cat string
		if err := catRows.Scan(&cat); err != nil {
			return nil, err
		}
		offer.ApplicableCategories = append(offer.ApplicableCategories, cat)
	}
	return &offer, catRows.Err()
}

// userUsageCount counts how many times a user has redeemed an offer.
func userUsageCount(ctx context.Context, q querier, offerID, userID int) (int, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM offer_usages WHERE offer_id = $1 AND user_id = $2",
		offerID, userID).Scan(&count)
	return count, err
}

func (h *OfferHandler) GetOffers(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "GetOffers")
	defer span.End()

	where := "WHERE is_active = TRUE AND is_public = TRUE AND start_date <= NOW() AND end_date >= NOW()"
	args := []any{}

	if offerType := c.Query("type"); offerType != "" {
		args = append(args, offerType)
		where += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if category := c.Query("category"); category != "" {
		args = append(args, category)
		where += fmt.Sprintf(" AND id IN (SELECT offer_id FROM offer_categories WHERE category = $%d)", len(args))
	}

	var total int
	if err := h.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM offers "+where, args...).Scan(&total); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to count offers", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	orderBy := sortClause(c, map[string]string{
		"value":      "value",
		"end_date":   "end_date",
		"created_at": "created_at",
	}, "created_at", "desc")

	page, limit, offset := pageParams(c)
	args = append(args, limit, offset)
	query := fmt.Sprintf("SELECT %s FROM offers %s ORDER BY %s LIMIT $%d OFFSET $%d",
		offerColumns, where, orderBy, len(args)-1, len(args))

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to fetch offers", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer rows.Close()

	offers := []models.Offer{}
	for rows.Next() {
		var o models.Offer
		if err := scanOffer(rows, &o); err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to scan offer", zap.Error(err))
			continue
		}
		offers = append(offers, o)
	}

	span.SetAttributes(attribute.Int("offers.count", len(offers)))
	c.JSON(http.StatusOK, gin.H{
		"offers":      offers,
		"total":       total,
		"totalPages":  totalPages(total, limit),
		"currentPage": page,
	})
}

func (h *OfferHandler) GetOfferByCode(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "GetOfferByCode")
	defer span.End()

	code := c.Param("code")
	span.SetAttributes(attribute.String("offer.code", models.NormalizeCode(code)))

	offer, err := loadOfferByCode(ctx, h.db, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Offer not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to fetch offer", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if !offer.IsValid(time.Now()) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Offer is not currently valid"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"offer":   offer,
		"isValid": true,
	})
}

func (h *OfferHandler) ValidateOffer(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "ValidateOffer")
	defer span.End()

	var req models.ValidateOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := middleware.UserID(c)
	span.SetAttributes(attribute.String("offer.code", models.NormalizeCode(req.Code)))

	offer, err := loadOfferByCode(ctx, h.db, req.Code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Invalid offer code"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to fetch offer", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	usage, err := userUsageCount(ctx, h.db, offer.ID, userID)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to count offer usage", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	items, cartTotal, err := h.cartFromRequest(ctx, req.Items)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to resolve cart items", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	result := promotions.Evaluate(offer, items, cartTotal, usage, time.Now())
	if !result.Valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": result.Reason})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"isValid":  true,
		"discount": result.Discount,
		"offer": gin.H{
			"id":    offer.ID,
			"title": offer.Title,
			"code":  offer.Code,
			"type":  offer.Type,
			"value": offer.Value,
		},
	})
}

// cartFromRequest resolves product categories for the submitted cart so
// category-scoped offers can be evaluated.
func (h *OfferHandler) cartFromRequest(ctx context.Context, reqItems []models.ValidateOfferItem) ([]promotions.CartItem, float64, error) {
	ids := make([]int, len(reqItems))
	for i, item := range reqItems {
		ids[i] = item.ProductID
	}

	categories := map[int]string{}
	rows, err := h.db.QueryContext(ctx, "SELECT id, category FROM products WHERE id = ANY($1)", pq.Array(ids))
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int
		var category string
		if err := rows.Scan(&id, &category); err != nil {
			return nil, 0, err
		}
		categories[id] = category
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var cartTotal float64
	items := make([]promotions.CartItem, len(reqItems))
	for i, item := range reqItems {
		items[i] = promotions.CartItem{
			ProductID: item.ProductID,
			Category:  categories[item.ProductID],
			Quantity:  item.Quantity,
			Price:     item.Price,
		}
		cartTotal += item.Price * float64(item.Quantity)
	}
	return items, cartTotal, nil
}

func (h *OfferHandler) CreateOffer(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "CreateOffer")
	defer span.End()

	var req models.CreateOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !models.IsOfferType(req.Type) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid offer type"})
		return
	}
	if !req.EndDate.After(req.StartDate) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "End date must be after start date"})
		return
	}
	if req.UserUsageLimit < 1 {
		req.UserUsageLimit = 1
	}
	isPublic := true
	if req.IsPublic != nil {
		isPublic = *req.IsPublic
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to begin transaction", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer tx.Rollback()

	var offer models.Offer
	err = scanOffer(tx.QueryRowContext(ctx,
		fmt.Sprintf(`INSERT INTO offers (code, title, description, type, value, minimum_order_amount, maximum_discount, usage_limit, user_usage_limit, start_date, end_date, is_public)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING %s`, offerColumns),
		models.NormalizeCode(req.Code), req.Title, req.Description, req.Type, req.Value,
		req.MinimumOrderAmount, req.MaximumDiscount, req.UsageLimit, req.UserUsageLimit,
		req.StartDate, req.EndDate, isPublic,
	), &offer)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Offer code already exists"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to create offer", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	for _, productID := range req.ApplicableProducts {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO offer_products (offer_id, product_id) VALUES ($1, $2)", offer.ID, productID); err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to attach offer product", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
	}
	for _, category := range req.ApplicableCategories {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO offer_categories (offer_id, category) VALUES ($1, $2)", offer.ID, category); err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to attach offer category", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to commit offer", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	offer.ApplicableProducts = req.ApplicableProducts
	offer.ApplicableCategories = req.ApplicableCategories

	h.logger.Info("Offer created", zap.String("code", offer.Code))
	c.JSON(http.StatusCreated, offer)
}
