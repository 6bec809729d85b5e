package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"storefront-svc/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func setupProductTest(t *testing.T) (*ProductHandler, sqlmock.Sqlmock, *gin.Engine) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}

	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))
	handler := NewProductHandler(db, testRedis(), logger)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/products", handler.GetProducts)
	router.GET("/products/:id", handler.GetProduct)
	router.DELETE("/products/:id", handler.DeleteProduct)

	return handler, mock, router
}

func productRowColumns() []string {
	return []string{"id", "name", "description", "category", "price", "compare_price",
		"stock", "min_order_quantity", "customizable", "is_active", "featured", "tags",
		"created_at", "updated_at"}
}

func sampleProductRow() *sqlmock.Rows {
	return sqlmock.NewRows(productRowColumns()).
		AddRow(1, "Sticker Pack", "Vinyl stickers", "labels", 25.00, 0.0,
			10, 1, true, true, false, "{vinyl,stickers}",
			time.Now(), time.Now())
}

func TestProductHandler_GetProducts_FiltersByCategory(t *testing.T) {
	handler, mock, router := setupProductTest(t)
	defer handler.db.Close()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM products").
		WithArgs("labels").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT (.+) FROM products WHERE is_active = TRUE AND category = \\$1").
		WithArgs("labels", 12, 0).
		WillReturnRows(sampleProductRow())

	req := httptest.NewRequest("GET", "/products?category=labels", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var resp struct {
		Products    []models.Product `json:"products"`
		Total       int              `json:"total"`
		TotalPages  int              `json:"totalPages"`
		CurrentPage int              `json:"currentPage"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(resp.Products) != 1 || resp.Total != 1 || resp.CurrentPage != 1 {
		t.Errorf("Unexpected listing: products=%d total=%d page=%d",
			len(resp.Products), resp.Total, resp.CurrentPage)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestProductHandler_GetProduct_CacheMissFallsThroughToDatabase(t *testing.T) {
	handler, mock, router := setupProductTest(t)
	defer handler.db.Close()

	mock.ExpectQuery("SELECT (.+) FROM products WHERE id = \\$1 AND is_active = TRUE").
		WithArgs("1").
		WillReturnRows(sampleProductRow())
	mock.ExpectQuery("SELECT id, name, type, choices, required, additional_cost FROM product_options").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "type", "choices", "required", "additional_cost"}).
			AddRow(1, "Finish", "select", "{matte,glossy}", true, 2.50))

	req := httptest.NewRequest("GET", "/products/1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var product models.Product
	if err := json.Unmarshal(w.Body.Bytes(), &product); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(product.Options) != 1 || product.Options[0].Name != "Finish" {
		t.Errorf("Expected one product option named Finish, got %+v", product.Options)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestProductHandler_GetProduct_NotFound(t *testing.T) {
	handler, mock, router := setupProductTest(t)
	defer handler.db.Close()

	mock.ExpectQuery("SELECT (.+) FROM products WHERE id = \\$1 AND is_active = TRUE").
		WithArgs("99").
		WillReturnRows(sqlmock.NewRows(productRowColumns()))

	req := httptest.NewRequest("GET", "/products/99", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestProductHandler_DeleteProduct_SoftDeletes(t *testing.T) {
	handler, mock, router := setupProductTest(t)
	defer handler.db.Close()

	mock.ExpectExec("UPDATE products SET is_active = FALSE").
		WithArgs("1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	req := httptest.NewRequest("DELETE", "/products/1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestProductHandler_DeleteProduct_AlreadyInactive(t *testing.T) {
	handler, mock, router := setupProductTest(t)
	defer handler.db.Close()

	mock.ExpectExec("UPDATE products SET is_active = FALSE").
		WithArgs("99").
		WillReturnResult(sqlmock.NewResult(0, 0))

	req := httptest.NewRequest("DELETE", "/products/99", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}
