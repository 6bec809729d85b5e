package models

import "time"

// Product categories match the print-shop catalog.
const (
	CategoryPrinting      = "printing"
	CategoryPackaging     = "packaging"
	CategoryBusinessCards = "business-cards"
	CategoryBanners       = "banners"
	CategoryBrochures     = "brochures"
	CategoryBoxes         = "boxes"
	CategoryBags          = "bags"
	CategoryLabels        = "labels"
)

var ProductCategories = []string{
	CategoryPrinting, CategoryPackaging, CategoryBusinessCards, CategoryBanners,
	CategoryBrochures, CategoryBoxes, CategoryBags, CategoryLabels,
}

func IsProductCategory(c string) bool {
	for _, v := range ProductCategories {
		if v == c {
			return true
		}
	}
	return false
}

type Product struct {
	ID               int             `json:"id"`
	Name             string          `json:"name"`
	Description      string          `json:"description"`
	Category         string          `json:"category"`
	Price            float64         `json:"price"`
	ComparePrice     float64         `json:"compare_price,omitempty"`
	Stock            int             `json:"stock"`
	MinOrderQuantity int             `json:"min_order_quantity"`
	Customizable     bool            `json:"customizable"`
	IsActive         bool            `json:"is_active"`
	Featured         bool            `json:"featured"`
	Tags             []string        `json:"tags,omitempty"`
	Options          []ProductOption `json:"options,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// ProductOption is a customization offered on a product, e.g. a foil finish
// or an extra color, each with its own surcharge.
type ProductOption struct {
	ID             int      `json:"id"`
	Name           string   `json:"name"`
	Type           string   `json:"type"` // text, select, color, file
	Choices        []string `json:"choices,omitempty"`
	Required       bool     `json:"required"`
	AdditionalCost float64  `json:"additional_cost"`
}

type CreateProductRequest struct {
	Name             string          `json:"name" binding:"required"`
	Description      string          `json:"description" binding:"required"`
	Category         string          `json:"category" binding:"required"`
	Price            float64         `json:"price" binding:"required,gte=0"`
	ComparePrice     float64         `json:"compare_price" binding:"gte=0"`
	Stock            int             `json:"stock" binding:"gte=0"`
	MinOrderQuantity int             `json:"min_order_quantity"`
	Customizable     bool            `json:"customizable"`
	Featured         bool            `json:"featured"`
	Tags             []string        `json:"tags"`
	Options          []ProductOption `json:"options"`
}

type UpdateProductRequest struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Price        float64  `json:"price"`
	ComparePrice float64  `json:"compare_price"`
	Stock        *int     `json:"stock"`
	Featured     *bool    `json:"featured"`
	IsActive     *bool    `json:"is_active"`
	Tags         []string `json:"tags"`
}
