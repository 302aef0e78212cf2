package main

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

type serverConfig struct {
	VIPLatency    time.Duration
	NormalLatency time.Duration

	// ErrorRate is the fraction of orders that fail with 503.
	ErrorRate float64
	Seed      int64
}

type orderResponse struct {
	OrderID string   `json:"orderId"`
	UserID  string   `json:"userId"`
	VIP     bool     `json:"vip"`
	Items   []string `json:"items"`
}

type orderHandler struct {
	cfg    serverConfig
	logger zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func newHandler(cfg serverConfig, logger zerolog.Logger) http.Handler {
	h := &orderHandler{
		cfg:    cfg,
		logger: logger,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/create_complex_order", h.createOrder)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("healthy"))
	})
	return mux
}

func (h *orderHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	userID := q.Get("userID")
	items := q.Get("items")
	if userID == "" || items == "" {
		http.Error(w, "userID and items are required", http.StatusBadRequest)
		return
	}
	vip := q.Get("is_vip") == "true"

	latency, fail := h.roll(vip)
	select {
	case <-time.After(latency):
	case <-r.Context().Done():
		return
	}

	if fail {
		h.logger.Debug().Str("user_id", userID).Msg("injected failure")
		http.Error(w, "order service unavailable", http.StatusServiceUnavailable)
		return
	}

	resp := orderResponse{
		OrderID: ulid.Make().String(),
		UserID:  userID,
		VIP:     vip,
		Items:   strings.Split(items, ","),
	}
	h.logger.Debug().Str("order_id", resp.OrderID).Str("user_id", userID).Bool("vip", vip).Msg("order created")

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// roll picks a latency within ±50% of the class mean and decides whether the
// order fails.
func (h *orderHandler) roll(vip bool) (time.Duration, bool) {
	mean := h.cfg.NormalLatency
	if vip {
		mean = h.cfg.VIPLatency
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var latency time.Duration
	if mean > 0 {
		latency = mean/2 + time.Duration(h.rng.Int63n(int64(mean)+1))
	}
	return latency, h.rng.Float64() < h.cfg.ErrorRate
}
