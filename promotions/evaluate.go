// Package promotions decides whether a promotional offer applies to a cart
// and computes the resulting discount. Evaluation is side-effect free; usage
// is recorded separately, after payment confirmation.
package promotions

import (
	"fmt"
	"math"
	"time"

	"storefront-svc/models"
)

// FreeShippingCredit is the flat shipping fee credited back by a
// free_shipping offer. It mirrors the checkout's flat rate.
const FreeShippingCredit = 10.0

type CartItem struct {
	ProductID int
	Category  string
	Quantity  int
	Price     float64 // unit price
}

type Result struct {
	Valid    bool
	Discount float64
	Reason   string // set when Valid is false
}

func invalid(reason string) Result {
	return Result{Valid: false, Reason: reason}
}

// Evaluate checks an offer against a cart for a user with userUsageCount
// prior redemptions. cartTotal is the full cart value used for the
// minimum-order check; the discount base is the applicable subset only.
func Evaluate(offer *models.Offer, items []CartItem, cartTotal float64, userUsageCount int, now time.Time) Result {
	if !offer.IsValid(now) {
		return invalid("offer has expired or is not active")
	}
	if userUsageCount >= offer.UserUsageLimit {
		return invalid("you have already used this offer")
	}
	if cartTotal < offer.MinimumOrderAmount {
		return invalid(fmt.Sprintf("minimum order amount of $%.2f required", offer.MinimumOrderAmount))
	}

	applicable := applicableItems(offer, items)
	if len(applicable) == 0 {
		return invalid("no applicable items in cart for this offer")
	}

	var applicableTotal float64
	for _, item := range applicable {
		applicableTotal += item.Price * float64(item.Quantity)
	}

	var discount float64
	switch offer.Type {
	case models.OfferPercentage:
		discount = applicableTotal * (offer.Value / 100)
	case models.OfferFixedAmount:
		discount = math.Min(offer.Value, applicableTotal)
	case models.OfferFreeShipping:
		discount = FreeShippingCredit
	case models.OfferBuyOneGetOne:
		// Simplified approximation, not a per-unit pairing.
		discount = applicableTotal * 0.5
	}

	if offer.MaximumDiscount != nil && discount > *offer.MaximumDiscount {
		discount = *offer.MaximumDiscount
	}

	return Result{Valid: true, Discount: Round2(discount)}
}

// applicableItems narrows the cart to the offer's scope. A product list takes
// precedence over a category list; both empty means the whole cart applies.
func applicableItems(offer *models.Offer, items []CartItem) []CartItem {
	if len(offer.ApplicableProducts) > 0 {
		var out []CartItem
		for _, item := range items {
			for _, id := range offer.ApplicableProducts {
				if item.ProductID == id {
					out = append(out, item)
					break
				}
			}
		}
		return out
	}
	if len(offer.ApplicableCategories) > 0 {
		var out []CartItem
		for _, item := range items {
			for _, cat := range offer.ApplicableCategories {
				if item.Category == cat {
					out = append(out, item)
					break
				}
			}
		}
		return out
	}
	return items
}

// Round2 rounds to two decimal places, half away from zero.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
