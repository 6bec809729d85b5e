package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"storefront-svc/payments"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

const testWebhookSecret = "whsec_test_secret"

// fakeGateway serves payment-intent responses for the handler under test.
func fakeGateway(t *testing.T, intentStatus string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/payment_intents":
			json.NewEncoder(w).Encode(payments.Intent{
				ID:           "pi_test_123",
				ClientSecret: "pi_test_123_secret",
				Status:       "requires_payment_method",
			})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/payment_intents/pi_test_123":
			json.NewEncoder(w).Encode(payments.Intent{
				ID:     "pi_test_123",
				Status: intentStatus,
			})
		default:
			t.Errorf("Unexpected gateway request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func setupPaymentTest(t *testing.T, gatewayURL string) (*PaymentHandler, sqlmock.Sqlmock, *gin.Engine) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}

	t.Setenv("PAYMENT_API_URL", gatewayURL)
	t.Setenv("PAYMENT_SECRET_KEY", "sk_test_123")
	t.Setenv("PAYMENT_WEBHOOK_SECRET", testWebhookSecret)

	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))
	handler := NewPaymentHandler(db, payments.NewClient(logger), nil, logger)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/webhook", handler.Webhook)

	authed := router.Group("")
	authed.Use(asUser(1))
	authed.POST("/payment/create-intent", handler.CreateIntent)
	authed.POST("/payment/confirm", handler.ConfirmPayment)

	return handler, mock, router
}

func pendingOrderRow(paymentIntentID string, paymentStatus string, offerID any) *sqlmock.Rows {
	return sqlmock.NewRows(orderRowColumns()).
		AddRow(7, "ORD-ABCDEF123456", 1, "pending", paymentStatus, paymentIntentID,
			100.00, 10.00, 8.00, 0.00, 118.00, offerID,
			"Test User", "1 Main St", "Springfield", "IL", "62701", time.Now(), time.Now())
}

func paymentBody(orderID int) *bytes.Buffer {
	body, _ := json.Marshal(map[string]int{"order_id": orderID})
	return bytes.NewBuffer(body)
}

func signedWebhookRequest(payload []byte) *http.Request {
	ts := time.Now().Unix()
	req := httptest.NewRequest("POST", "/webhook", bytes.NewBuffer(payload))
	req.Header.Set(payments.SignatureHeader,
		fmt.Sprintf("t=%d,v1=%s", ts, payments.Sign(payload, testWebhookSecret, ts)))
	return req
}

func succeededPayload(intentID string) []byte {
	payload, _ := json.Marshal(map[string]any{
		"id":   "evt_1",
		"type": "payment_intent.succeeded",
		"data": map[string]any{
			"object": map[string]any{"id": intentID, "status": "succeeded"},
		},
	})
	return payload
}

func TestPaymentHandler_CreateIntent_Success(t *testing.T) {
	gateway := fakeGateway(t, "succeeded")
	defer gateway.Close()

	handler, mock, router := setupPaymentTest(t, gateway.URL)
	defer handler.db.Close()

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id = \\$1 AND user_id = \\$2").
		WithArgs(7, 1).
		WillReturnRows(pendingOrderRow("", "pending", nil))
	mock.ExpectExec("UPDATE orders SET payment_intent_id =").
		WithArgs("pi_test_123", 7).
		WillReturnResult(sqlmock.NewResult(0, 1))

	req := httptest.NewRequest("POST", "/payment/create-intent", paymentBody(7))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["clientSecret"] != "pi_test_123_secret" {
		t.Errorf("Unexpected client secret: %q", resp["clientSecret"])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestPaymentHandler_CreateIntent_AlreadyPaid(t *testing.T) {
	gateway := fakeGateway(t, "succeeded")
	defer gateway.Close()

	handler, mock, router := setupPaymentTest(t, gateway.URL)
	defer handler.db.Close()

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id = \\$1 AND user_id = \\$2").
		WithArgs(7, 1).
		WillReturnRows(pendingOrderRow("pi_test_123", "paid", nil))

	req := httptest.NewRequest("POST", "/payment/create-intent", paymentBody(7))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestPaymentHandler_ConfirmPayment_Success(t *testing.T) {
	gateway := fakeGateway(t, "succeeded")
	defer gateway.Close()

	handler, mock, router := setupPaymentTest(t, gateway.URL)
	defer handler.db.Close()

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id = \\$1 AND user_id = \\$2").
		WithArgs(7, 1).
		WillReturnRows(pendingOrderRow("pi_test_123", "pending", nil))
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE orders SET payment_status =").
		WithArgs("paid", "confirmed", "pi_test_123").
		WillReturnRows(pendingOrderRow("pi_test_123", "paid", nil))
	mock.ExpectCommit()

	req := httptest.NewRequest("POST", "/payment/confirm", paymentBody(7))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestPaymentHandler_ConfirmPayment_NotSucceeded(t *testing.T) {
	gateway := fakeGateway(t, "requires_payment_method")
	defer gateway.Close()

	handler, mock, router := setupPaymentTest(t, gateway.URL)
	defer handler.db.Close()

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id = \\$1 AND user_id = \\$2").
		WithArgs(7, 1).
		WillReturnRows(pendingOrderRow("pi_test_123", "pending", nil))

	req := httptest.NewRequest("POST", "/payment/confirm", paymentBody(7))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}

	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["error"] != "Payment not completed" {
		t.Errorf("Unexpected error message: %q", resp["error"])
	}
}

func TestPaymentHandler_Webhook_Succeeded(t *testing.T) {
	handler, mock, router := setupPaymentTest(t, "http://unused.invalid")
	defer handler.db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE orders SET payment_status =").
		WithArgs("paid", "confirmed", "pi_test_123").
		WillReturnRows(pendingOrderRow("pi_test_123", "paid", nil))
	mock.ExpectCommit()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, signedWebhookRequest(succeededPayload("pi_test_123")))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestPaymentHandler_Webhook_DuplicateDeliveryIsNoOp(t *testing.T) {
	handler, mock, router := setupPaymentTest(t, "http://unused.invalid")
	defer handler.db.Close()

	// The payment_status guard means the second delivery matches no rows.
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE orders SET payment_status =").
		WithArgs("paid", "confirmed", "pi_test_123").
		WillReturnRows(sqlmock.NewRows(orderRowColumns()))
	mock.ExpectRollback()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, signedWebhookRequest(succeededPayload("pi_test_123")))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestPaymentHandler_Webhook_RecordsOfferUsageOnce(t *testing.T) {
	handler, mock, router := setupPaymentTest(t, "http://unused.invalid")
	defer handler.db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE orders SET payment_status =").
		WithArgs("paid", "confirmed", "pi_test_123").
		WillReturnRows(pendingOrderRow("pi_test_123", "paid", 3))
	mock.ExpectExec("INSERT INTO offer_usages \\(offer_id, user_id, order_number\\)").
		WithArgs(3, 1, "ORD-ABCDEF123456").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE offers SET usage_count = usage_count \\+ 1 WHERE id = \\$1 AND \\(usage_limit IS NULL OR usage_count < usage_limit\\)").
		WithArgs(3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, signedWebhookRequest(succeededPayload("pi_test_123")))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestPaymentHandler_Webhook_ExhaustedOfferStillMarksPaid(t *testing.T) {
	handler, mock, router := setupPaymentTest(t, "http://unused.invalid")
	defer handler.db.Close()

	// usage_count already at usage_limit: the guarded increment matches no
	// rows but the captured payment is still recorded and committed.
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE orders SET payment_status =").
		WithArgs("paid", "confirmed", "pi_test_123").
		WillReturnRows(pendingOrderRow("pi_test_123", "paid", 3))
	mock.ExpectExec("INSERT INTO offer_usages \\(offer_id, user_id, order_number\\)").
		WithArgs(3, 1, "ORD-ABCDEF123456").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE offers SET usage_count = usage_count \\+ 1 WHERE id = \\$1 AND \\(usage_limit IS NULL OR usage_count < usage_limit\\)").
		WithArgs(3).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, signedWebhookRequest(succeededPayload("pi_test_123")))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestPaymentHandler_Webhook_InvalidSignature(t *testing.T) {
	handler, _, router := setupPaymentTest(t, "http://unused.invalid")
	defer handler.db.Close()

	payload := succeededPayload("pi_test_123")
	ts := time.Now().Unix()
	req := httptest.NewRequest("POST", "/webhook", bytes.NewBuffer(payload))
	req.Header.Set(payments.SignatureHeader,
		fmt.Sprintf("t=%d,v1=%s", ts, payments.Sign(payload, "whsec_wrong_secret", ts)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestPaymentHandler_Webhook_FailedPayment(t *testing.T) {
	handler, mock, router := setupPaymentTest(t, "http://unused.invalid")
	defer handler.db.Close()

	mock.ExpectExec("UPDATE orders SET payment_status =").
		WithArgs("failed", "failed", "pi_test_123", "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))

	payload, _ := json.Marshal(map[string]any{
		"id":   "evt_2",
		"type": "payment_intent.payment_failed",
		"data": map[string]any{
			"object": map[string]any{"id": "pi_test_123", "status": "failed"},
		},
	})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, signedWebhookRequest(payload))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}
