package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"coinbase-trade-bot-go/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// APIHandler holds dependencies for the API endpoints.
type APIHandler struct {
	log *zap.Logger
	db  *gorm.DB
	now func() time.Time
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(log *zap.Logger, db *gorm.DB) *APIHandler {
	return &APIHandler{log: log, db: db, now: time.Now}
}

// Routes registers the API endpoints.
func (h *APIHandler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", h.StatusHandler)
	mux.HandleFunc("/api/lots", h.LotsHandler)
	mux.HandleFunc("/api/orders", h.OrdersHandler)
	mux.HandleFunc("/api/statistics", h.StatisticsHandler)
	return mux
}

// ProductSummary is the state of one product as recorded in the database.
type ProductSummary struct {
	ProductID       string      `json:"product_id"`
	ActiveLot       *models.Lot `json:"active_lot,omitempty"`
	LastSale        *models.Lot `json:"last_sale,omitempty"`
	OpenOrders      int64       `json:"open_orders"`
	AbandonedOrders int64       `json:"abandoned_orders"`
}

// StatusHandler returns the active lot and last sale of every product.
func (h *APIHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	var products []string
	if err := h.db.Model(&models.Lot{}).Distinct().Order("product_id").Pluck("product_id", &products).Error; err != nil {
		h.log.Error("Failed to list products", zap.Error(err))
		http.Error(w, "Failed to get status", http.StatusInternalServerError)
		return
	}

	summaries := make([]ProductSummary, 0, len(products))
	for _, p := range products {
		s := ProductSummary{ProductID: p}

		var active models.Lot
		err := h.db.Where("product_id = ? AND is_active = ?", p, true).Order("price asc").Limit(1).Find(&active).Error
		if err == nil && active.ID != 0 {
			s.ActiveLot = &active
		}

		var sold models.Lot
		err = h.db.Where("product_id = ? AND is_active = ? AND merged_into IS NULL AND sell_price IS NOT NULL", p, false).
			Order("updated_at desc").Limit(1).Find(&sold).Error
		if err == nil && sold.ID != 0 {
			s.LastSale = &sold
		}

		h.db.Model(&models.Order{}).
			Where("product_id = ? AND phase NOT IN ?", p, []string{models.PhasePersisted, models.PhaseAbandoned}).
			Count(&s.OpenOrders)
		h.db.Model(&models.Order{}).
			Where("product_id = ? AND phase = ?", p, models.PhaseAbandoned).
			Count(&s.AbandonedOrders)

		summaries = append(summaries, s)
	}

	writeJSON(w, h.log, summaries)
}

// LotsHandler returns lots, most recent first. Optional filters: product, active.
func (h *APIHandler) LotsHandler(w http.ResponseWriter, r *http.Request) {
	q := h.db.Order("id desc")
	if p := r.URL.Query().Get("product"); p != "" {
		q = q.Where("product_id = ?", p)
	}
	if a := r.URL.Query().Get("active"); a != "" {
		active, err := strconv.ParseBool(a)
		if err != nil {
			http.Error(w, "active must be a boolean", http.StatusBadRequest)
			return
		}
		q = q.Where("is_active = ?", active)
	}

	var lots []models.Lot
	if err := q.Find(&lots).Error; err != nil {
		h.log.Error("Failed to get lots from database", zap.Error(err))
		http.Error(w, "Failed to get lots", http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.log, lots)
}

// OrdersHandler returns the order journal, most recent first.
func (h *APIHandler) OrdersHandler(w http.ResponseWriter, r *http.Request) {
	q := h.db.Order("id desc")
	if p := r.URL.Query().Get("product"); p != "" {
		q = q.Where("product_id = ?", p)
	}
	if phase := r.URL.Query().Get("phase"); phase != "" {
		q = q.Where("phase = ?", phase)
	}

	var orders []models.Order
	if err := q.Find(&orders).Error; err != nil {
		h.log.Error("Failed to get orders from database", zap.Error(err))
		http.Error(w, "Failed to get orders", http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.log, orders)
}

// StatsDetail holds calculated statistics for a given period.
type StatsDetail struct {
	TotalTrades      int64   `json:"total_trades"`
	ProfitableTrades int64   `json:"profitable_trades"`
	WinRate          float64 `json:"win_rate"`
	TotalProfit      float64 `json:"total_profit"`
}

func (s *StatsDetail) add(profit float64) {
	s.TotalTrades++
	if profit > 0 {
		s.ProfitableTrades++
	}
	s.TotalProfit += profit
}

func (s *StatsDetail) finish() {
	if s.TotalTrades > 0 {
		s.WinRate = float64(s.ProfitableTrades) / float64(s.TotalTrades)
	}
}

// StatisticsResponse is the structure for the /api/statistics endpoint.
type StatisticsResponse struct {
	Since24h StatsDetail `json:"since_24h"`
	AllTime  StatsDetail `json:"all_time"`
}

// StatisticsHandler calculates realized profit over sold lots.
func (h *APIHandler) StatisticsHandler(w http.ResponseWriter, r *http.Request) {
	var sold []models.Lot
	err := h.db.
		Where("is_active = ? AND merged_into IS NULL AND sell_price IS NOT NULL AND bootstrap = ?", false, false).
		Find(&sold).Error
	if err != nil {
		h.log.Error("Failed to get lots for statistics", zap.Error(err))
		http.Error(w, "Failed to calculate statistics", http.StatusInternalServerError)
		return
	}

	since24h := h.now().Add(-24 * time.Hour)
	var response StatisticsResponse
	for _, lot := range sold {
		profit := (*lot.SellPrice - lot.Price) * lot.Size
		response.AllTime.add(profit)
		if lot.UpdatedAt.After(since24h) {
			response.Since24h.add(profit)
		}
	}
	response.AllTime.finish()
	response.Since24h.finish()

	writeJSON(w, h.log, response)
}

func writeJSON(w http.ResponseWriter, log *zap.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Failed to write response", zap.Error(err))
	}
}
