package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/ordersaga/internal/health"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/ordering"
)

const (
	httpRequestTimeout = 5 * time.Second
	projectionParam    = "projection"
	noShipping         = "noshipping"
)

// orderQueries — чтение заказов для опроса статуса.
type orderQueries interface {
	GetOrder(ctx context.Context, orderID int64) (domain.Order, error)
	History(ctx context.Context, orderID int64) ([]domain.TimelineEvent, error)
	ListOrders(ctx context.Context, buyerID string, limit int) ([]domain.Order, error)
}

type opsRouter struct {
	orders orderQueries
	logger *log.Entry
}

// newOpsRouter собирает служебный HTTP API: метрики, проверки здоровья и опрос статуса заказа.
func newOpsRouter(gatherer prometheus.Gatherer, healthHandler *healthcheck.Handler, orders orderQueries, logger *log.Entry) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	h := &opsRouter{orders: orders, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(middleware.Timeout(httpRequestTimeout))

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Handle("/healthz", healthHandler)
	r.Get("/livez", healthcheck.LivenessHandler)
	r.Get("/readyz", healthHandler.ReadinessHandler)

	if orders != nil {
		r.Get("/orders", h.listOrders)
		r.Get("/orders/{id}", h.getOrder)
	}
	return r
}

func (h *opsRouter) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || orderID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order id"})
		return
	}

	order, err := h.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	timeline, err := h.orders.History(r.Context(), orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	withShipping := r.URL.Query().Get(projectionParam) != noShipping
	writeJSON(w, http.StatusOK, ordering.NewOrderView(order, timeline, withShipping))
}

func (h *opsRouter) listOrders(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}

	orders, err := h.orders.ListOrders(r.Context(), r.URL.Query().Get("buyerId"), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}

	withShipping := r.URL.Query().Get(projectionParam) != noShipping
	views := make([]ordering.OrderView, 0, len(orders))
	for _, order := range orders {
		views = append(views, ordering.NewOrderView(order, nil, withShipping))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": views})
}

func (h *opsRouter) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		code = http.StatusNotFound
	case errors.Is(err, domain.ErrValidation):
		code = http.StatusBadRequest
	case domain.IsTransient(err):
		code = http.StatusServiceUnavailable
	}
	if code >= http.StatusInternalServerError && h.logger != nil {
		h.logger.WithError(err).Warn("order query failed")
	}
	writeJSON(w, code, map[string]string{"error": err.Error(), "kind": domain.Kind(err)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// serveHTTP держит сервер до отмены ctx, затем аккуратно останавливает его.
func serveHTTP(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration, logger *log.Entry) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("ops HTTP слушает %s (/metrics, /healthz, /readyz, /orders/{id})", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("ops HTTP shutdown with error")
	}
	return <-errCh
}
