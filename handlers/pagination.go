package handlers

import (
	"math"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	defaultPage  = 1
	defaultLimit = 12
	maxLimit     = 100
)

// pageParams reads page/limit query parameters with sane bounds.
func pageParams(c *gin.Context) (page, limit, offset int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", strconv.Itoa(defaultPage)))
	if err != nil || page < 1 {
		page = defaultPage
	}
	limit, err = strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)))
	if err != nil || limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit, (page - 1) * limit
}

func totalPages(total, limit int) int {
	return int(math.Ceil(float64(total) / float64(limit)))
}

// sortClause maps user-supplied sort/order onto a whitelisted ORDER BY.
func sortClause(c *gin.Context, allowed map[string]string, defaultColumn, defaultOrder string) string {
	column, ok := allowed[c.DefaultQuery("sort", "")]
	if !ok {
		column = defaultColumn
	}
	order := c.DefaultQuery("order", defaultOrder)
	if order != "asc" && order != "desc" {
		order = defaultOrder
	}
	return column + " " + order
}
