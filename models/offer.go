package models

import (
	"strings"
	"time"
)

type OfferType string

const (
	OfferPercentage   OfferType = "percentage"
	OfferFixedAmount  OfferType = "fixed_amount"
	OfferBuyOneGetOne OfferType = "buy_one_get_one"
	OfferFreeShipping OfferType = "free_shipping"
)

func IsOfferType(t string) bool {
	switch OfferType(t) {
	case OfferPercentage, OfferFixedAmount, OfferBuyOneGetOne, OfferFreeShipping:
		return true
	}
	return false
}

type Offer struct {
	ID                   int       `json:"id"`
	Code                 string    `json:"code"`
	Title                string    `json:"title"`
	Description          string    `json:"description"`
	Type                 OfferType `json:"type"`
	Value                float64   `json:"value"`
	MinimumOrderAmount   float64   `json:"minimum_order_amount"`
	MaximumDiscount      *float64  `json:"maximum_discount,omitempty"`
	UsageLimit           *int      `json:"usage_limit,omitempty"` // nil means unlimited
	UsageCount           int       `json:"usage_count"`
	UserUsageLimit       int       `json:"user_usage_limit"`
	StartDate            time.Time `json:"start_date"`
	EndDate              time.Time `json:"end_date"`
	IsActive             bool      `json:"is_active"`
	IsPublic             bool      `json:"is_public"`
	ApplicableProducts   []int     `json:"applicable_products,omitempty"`
	ApplicableCategories []string  `json:"applicable_categories,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}

// NormalizeCode folds an offer code to its canonical uppercase form.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsValid reports whether the offer can be redeemed at all right now,
// ignoring any per-user restrictions.
func (o *Offer) IsValid(now time.Time) bool {
	if !o.IsActive {
		return false
	}
	if now.Before(o.StartDate) || now.After(o.EndDate) {
		return false
	}
	if o.UsageLimit != nil && o.UsageCount >= *o.UsageLimit {
		return false
	}
	return true
}

// CanUserUse reports whether a user with the given prior usage count may
// still redeem the offer.
func (o *Offer) CanUserUse(now time.Time, userUsageCount int) bool {
	return o.IsValid(now) && userUsageCount < o.UserUsageLimit
}

type CreateOfferRequest struct {
	Code                 string    `json:"code" binding:"required,min=3"`
	Title                string    `json:"title" binding:"required,min=3"`
	Description          string    `json:"description" binding:"required"`
	Type                 string    `json:"type" binding:"required"`
	Value                float64   `json:"value" binding:"gte=0"`
	MinimumOrderAmount   float64   `json:"minimum_order_amount" binding:"gte=0"`
	MaximumDiscount      *float64  `json:"maximum_discount"`
	UsageLimit           *int      `json:"usage_limit"`
	UserUsageLimit       int       `json:"user_usage_limit"`
	StartDate            time.Time `json:"start_date" binding:"required"`
	EndDate              time.Time `json:"end_date" binding:"required"`
	IsPublic             *bool     `json:"is_public"`
	ApplicableProducts   []int     `json:"applicable_products"`
	ApplicableCategories []string  `json:"applicable_categories"`
}

type ValidateOfferRequest struct {
	Code  string              `json:"code" binding:"required"`
	Items []ValidateOfferItem `json:"items" binding:"required,min=1,dive"`
}

type ValidateOfferItem struct {
	ProductID int     `json:"product_id" binding:"required"`
	Quantity  int     `json:"quantity" binding:"required,gt=0"`
	Price     float64 `json:"price" binding:"gte=0"`
}
