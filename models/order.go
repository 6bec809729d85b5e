package models

import "time"

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusFailed    OrderStatus = "failed"
)

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

type Order struct {
	ID              int             `json:"id"`
	OrderNumber     string          `json:"order_number"`
	UserID          int             `json:"user_id"`
	Status          OrderStatus     `json:"status"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	PaymentIntentID string          `json:"payment_intent_id,omitempty"`
	Subtotal        float64         `json:"subtotal"`
	Shipping        float64         `json:"shipping"`
	Tax             float64         `json:"tax"`
	Discount        float64         `json:"discount"`
	Total           float64         `json:"total"`
	OfferID         *int            `json:"offer_id,omitempty"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	Items           []OrderItem     `json:"items,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type OrderItem struct {
	ID             int             `json:"id"`
	ProductID      int             `json:"product_id"`
	ProductName    string          `json:"product_name,omitempty"`
	Quantity       int             `json:"quantity"`
	Price          float64         `json:"price"` // unit price snapshot at purchase time
	Customizations []Customization `json:"customizations,omitempty"`
}

// Customization is a chosen product option on a line item, snapshotted with
// its surcharge.
type Customization struct {
	Name           string  `json:"name"`
	Value          string  `json:"value"`
	AdditionalCost float64 `json:"additional_cost"`
}

type ShippingAddress struct {
	Name    string `json:"name" binding:"required"`
	Street  string `json:"street" binding:"required"`
	City    string `json:"city" binding:"required"`
	State   string `json:"state"`
	ZipCode string `json:"zip_code" binding:"required"`
}

type CreateOrderRequest struct {
	Items           []CreateOrderItem `json:"items" binding:"required,min=1,dive"`
	ShippingAddress ShippingAddress   `json:"shipping_address" binding:"required"`
	OfferCode       string            `json:"offer_code"`
}

type CreateOrderItem struct {
	ProductID      int             `json:"product_id" binding:"required"`
	Quantity       int             `json:"quantity" binding:"required,gt=0"`
	Customizations []Customization `json:"customizations"`
}

// OrderEvent is the JSON payload published to the event bus for the
// notification consumer.
type OrderEvent struct {
	OrderID     int         `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	UserID      int         `json:"user_id"`
	Status      OrderStatus `json:"status"`
	Total       float64     `json:"total"`
	EventType   string      `json:"event_type"` // order_created, order_cancelled, payment_succeeded, payment_failed, event_registration
}
