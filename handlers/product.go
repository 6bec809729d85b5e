package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"storefront-svc/cache"
	"storefront-svc/models"

	"github.com/gin-gonic/gin"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const productColumns = "id, name, description, category, price, compare_price, stock, min_order_quantity, customizable, is_active, featured, tags, created_at, updated_at"

type ProductHandler struct {
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger
}

func NewProductHandler(db *sql.DB, redisClient *redis.Client, logger *zap.Logger) *ProductHandler {
	return &ProductHandler{db: db, redisClient: redisClient, logger: logger}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner, p *models.Product) error {
	return row.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.Price, &p.ComparePrice,
		&p.Stock, &p.MinOrderQuantity, &p.Customizable, &p.IsActive, &p.Featured,
		pq.Array(&p.Tags), &p.CreatedAt, &p.UpdatedAt)
}

func (h *ProductHandler) GetProducts(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "GetProducts")
	defer span.End()

	where := "WHERE is_active = TRUE"
	args := []any{}

	if category := c.Query("category"); category != "" {
		args = append(args, category)
		where += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if c.Query("featured") == "true" {
		where += " AND featured = TRUE"
	}
	if search := c.Query("search"); search != "" {
		args = append(args, "%"+search+"%")
		where += fmt.Sprintf(" AND (name ILIKE $%d OR description ILIKE $%d)", len(args), len(args))
	}

	var total int
	if err := h.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM products "+where, args...).Scan(&total); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to count products", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	orderBy := sortClause(c, map[string]string{
		"name":       "name",
		"price":      "price",
		"created_at": "created_at",
	}, "created_at", "desc")

	page, limit, offset := pageParams(c)
	args = append(args, limit, offset)
	query := fmt.Sprintf("SELECT %s FROM products %s ORDER BY %s LIMIT $%d OFFSET $%d",
		productColumns, where, orderBy, len(args)-1, len(args))

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to fetch products", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		var p models.Product
		if err := scanProduct(rows, &p); err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to scan product", zap.Error(err))
			continue
		}
		products = append(products, p)
	}

	span.SetAttributes(attribute.Int("products.count", len(products)))
	c.JSON(http.StatusOK, gin.H{
		"products":    products,
		"total":       total,
		"totalPages":  totalPages(total, limit),
		"currentPage": page,
	})
}

func (h *ProductHandler) GetProduct(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "GetProduct")
	defer span.End()

	id := c.Param("id")
	span.SetAttributes(attribute.String("product.id", id))

	// Try the cache first
	if cached, err := cache.GetProduct(ctx, h.redisClient, id); err == nil {
		var product models.Product
		if err := json.Unmarshal(cached, &product); err == nil {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			c.JSON(http.StatusOK, product)
			return
		}
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	var product models.Product
	err := scanProduct(h.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM products WHERE id = $1 AND is_active = TRUE", productColumns), id), &product)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to fetch product", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	options, err := h.loadOptions(ctx, product.ID)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to fetch product options", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	product.Options = options

	cache.SetProduct(ctx, h.redisClient, id, product, cache.ProductTTL)

	c.JSON(http.StatusOK, product)
}

func (h *ProductHandler) loadOptions(ctx context.Context, productID int) ([]models.ProductOption, error) {
	rows, err := h.db.QueryContext(ctx,
		"SELECT id, name, type, choices, required, additional_cost FROM product_options WHERE product_id = $1 ORDER BY id",
		productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var options []models.ProductOption
	for rows.Next() {
		var o models.ProductOption
		if err := rows.Scan(&o.ID, &o.Name, &o.Type, pq.Array(&o.Choices), &o.Required, &o.AdditionalCost); err != nil {
			return nil, err
		}
		options = append(options, o)
	}
	return options, rows.Err()
}

func (h *ProductHandler) CreateProduct(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "CreateProduct")
	defer span.End()

	var req models.CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !models.IsProductCategory(req.Category) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid category"})
		return
	}
	if req.MinOrderQuantity < 1 {
		req.MinOrderQuantity = 1
	}
	if req.Tags == nil {
		req.Tags = []string{}
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to begin transaction", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer tx.Rollback()

	var product models.Product
	err = scanProduct(tx.QueryRowContext(ctx,
		fmt.Sprintf(`INSERT INTO products (name, description, category, price, compare_price, stock, min_order_quantity, customizable, featured, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING %s`, productColumns),
		req.Name, req.Description, req.Category, req.Price, req.ComparePrice,
		req.Stock, req.MinOrderQuantity, req.Customizable, req.Featured, pq.Array(req.Tags),
	), &product)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to create product", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	for _, opt := range req.Options {
		if opt.Choices == nil {
			opt.Choices = []string{}
		}
		o := opt
		err = tx.QueryRowContext(ctx,
			"INSERT INTO product_options (product_id, name, type, choices, required, additional_cost) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id",
			product.ID, opt.Name, opt.Type, pq.Array(opt.Choices), opt.Required, opt.AdditionalCost,
		).Scan(&o.ID)
		if err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to create product option", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		product.Options = append(product.Options, o)
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to commit product", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	span.SetAttributes(attribute.Int("product.id", product.ID))
	h.logger.Info("Product created", zap.Int("product_id", product.ID))
	c.JSON(http.StatusCreated, product)
}

func (h *ProductHandler) UpdateProduct(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "UpdateProduct")
	defer span.End()

	id := c.Param("id")
	span.SetAttributes(attribute.String("product.id", id))

	var req models.UpdateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Build update query dynamically
	query := "UPDATE products SET updated_at = CURRENT_TIMESTAMP"
	args := []any{}
	argPos := 1

	if req.Name != "" {
		query += ", name = $" + strconv.Itoa(argPos)
		args = append(args, req.Name)
		argPos++
	}
	if req.Description != "" {
		query += ", description = $" + strconv.Itoa(argPos)
		args = append(args, req.Description)
		argPos++
	}
	if req.Price > 0 {
		query += ", price = $" + strconv.Itoa(argPos)
		args = append(args, req.Price)
		argPos++
	}
	if req.ComparePrice > 0 {
		query += ", compare_price = $" + strconv.Itoa(argPos)
		args = append(args, req.ComparePrice)
		argPos++
	}
	if req.Stock != nil {
		query += ", stock = $" + strconv.Itoa(argPos)
		args = append(args, *req.Stock)
		argPos++
	}
	if req.Featured != nil {
		query += ", featured = $" + strconv.Itoa(argPos)
		args = append(args, *req.Featured)
		argPos++
	}
	if req.IsActive != nil {
		query += ", is_active = $" + strconv.Itoa(argPos)
		args = append(args, *req.IsActive)
		argPos++
	}
	if req.Tags != nil {
		query += ", tags = $" + strconv.Itoa(argPos)
		args = append(args, pq.Array(req.Tags))
		argPos++
	}

	query += " WHERE id = $" + strconv.Itoa(argPos) + " RETURNING " + productColumns
	args = append(args, id)

	var product models.Product
	if err := scanProduct(h.db.QueryRowContext(ctx, query, args...), &product); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to update product", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	// Invalidate cache
	cache.DeleteProduct(ctx, h.redisClient, id)

	h.logger.Info("Product updated", zap.String("product_id", id))
	c.JSON(http.StatusOK, product)
}

// DeleteProduct retires a product from the catalog. Orders keep their line
// item references, so this is a soft delete.
func (h *ProductHandler) DeleteProduct(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "DeleteProduct")
	defer span.End()

	id := c.Param("id")
	span.SetAttributes(attribute.String("product.id", id))

	result, err := h.db.ExecContext(ctx, "UPDATE products SET is_active = FALSE, updated_at = CURRENT_TIMESTAMP WHERE id = $1 AND is_active = TRUE", id)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to delete product", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		return
	}

	// Invalidate cache
	cache.DeleteProduct(ctx, h.redisClient, id)

	h.logger.Info("Product deleted", zap.String("product_id", id))
	c.JSON(http.StatusOK, gin.H{"message": "Product deleted successfully"})
}
