package api

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/choiwjun/chamgab-sub000/internal/database"
	"github.com/choiwjun/chamgab-sub000/internal/features"
	"github.com/choiwjun/chamgab-sub000/internal/models"
)

// TransactionHistory is the read side of the transaction store
type TransactionHistory interface {
	QueryTransactions(ctx context.Context, filter database.TransactionFilter) ([]models.Transaction, error)
}

// RegionHandler serves sales history for one district, whatever spelling
// the district was stored under
type RegionHandler struct {
	*Handler
	keys *features.DistrictKeys
}

func NewRegionHandler(h *Handler, keys *features.DistrictKeys) *RegionHandler {
	if keys == nil {
		keys = features.NewDistrictKeys(nil)
	}
	return &RegionHandler{Handler: h, keys: keys}
}

type regionQuery struct {
	From    string  `form:"from"`
	To      string  `form:"to"`
	AreaMin float64 `form:"area_min"`
	AreaMax float64 `form:"area_max"`
	Limit   int     `form:"limit"`
}

func (h *RegionHandler) filter(c *gin.Context) (database.TransactionFilter, bool) {
	var q regionQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters"})
		return database.TransactionFilter{}, false
	}

	province, district := c.Param("province"), c.Param("district")
	filter := database.TransactionFilter{
		Province:  province,
		Districts: h.keys.Spellings(province, district),
		AreaMin:   q.AreaMin,
		AreaMax:   q.AreaMax,
		Limit:     q.Limit,
	}
	for _, bound := range []struct {
		raw  string
		dest *time.Time
	}{{q.From, &filter.DateFrom}, {q.To, &filter.DateTo}} {
		if bound.raw == "" {
			continue
		}
		t, err := time.Parse(dateLayout, bound.raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Dates must be YYYY-MM-DD"})
			return database.TransactionFilter{}, false
		}
		*bound.dest = t
	}
	return filter, true
}

// GetTransactions lists a district's sales, oldest first
func (h *RegionHandler) GetTransactions(c *gin.Context) {
	filter, ok := h.filter(c)
	if !ok {
		return
	}

	txs, err := h.history.QueryTransactions(c.Request.Context(), filter)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get district transactions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get transactions"})
		return
	}
	c.JSON(http.StatusOK, txs)
}

// MonthlyStats is the sales summary of one month
type MonthlyStats struct {
	Month       string  `json:"month"`
	Count       int     `json:"count"`
	MedianPrice float64 `json:"median_price"`
	// Median price per m² of exclusive area
	MedianPricePerArea float64 `json:"median_price_per_area"`
}

// GetTrend summarises a district's sales by month
func (h *RegionHandler) GetTrend(c *gin.Context) {
	filter, ok := h.filter(c)
	if !ok {
		return
	}
	filter.Limit = 0

	txs, err := h.history.QueryTransactions(c.Request.Context(), filter)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get district trend")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get trend"})
		return
	}

	c.JSON(http.StatusOK, monthlyStats(txs))
}

func monthlyStats(txs []models.Transaction) []MonthlyStats {
	prices := make(map[string][]float64)
	perArea := make(map[string][]float64)
	for _, tx := range txs {
		month := tx.TransactionDate.Format("2006-01")
		prices[month] = append(prices[month], float64(tx.Price))
		perArea[month] = append(perArea[month], float64(tx.Price)/tx.AreaExclusive)
	}

	months := make([]string, 0, len(prices))
	for m := range prices {
		months = append(months, m)
	}
	sort.Strings(months)

	out := make([]MonthlyStats, len(months))
	for i, m := range months {
		out[i] = MonthlyStats{
			Month:              m,
			Count:              len(prices[m]),
			MedianPrice:        features.Median(prices[m]),
			MedianPricePerArea: features.Median(perArea[m]),
		}
	}
	return out
}

func parseLimit(raw string, fallback int) int {
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}
