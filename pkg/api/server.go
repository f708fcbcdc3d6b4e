// Package api serves the order REST endpoints and the per-order WebSocket
// status stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/swapexec/pkg/broadcast"
	"github.com/uhyunpark/swapexec/pkg/order"
	"github.com/uhyunpark/swapexec/pkg/queue"
)

// Queue is the part of queue.Queue the server uses.
type Queue interface {
	Enqueue(id string, data order.JobData, opts queue.Options) (queue.Job, bool, error)
	Get(id string) (queue.Job, bool)
	Counts() map[queue.State]int
}

// Events is the part of broadcast.Broadcaster the server uses.
type Events interface {
	Subscribe(orderID string, conn broadcast.Conn, orderType order.Type) int
	Unregister(orderID string, conn broadcast.Conn)
	Emit(orderID string, status order.Status, details broadcast.Details) broadcast.Message
}

// MaxOrderDelay bounds delayMs on sniper orders.
const MaxOrderDelay = 30 * 24 * time.Hour

type Options struct {
	AllowedOrigins []string
	// Venues is reported by /api/queue/stats.
	Venues []string
}

// Server handles REST API and WebSocket connections
type Server struct {
	store  order.Store
	queue  Queue
	events Events
	opts   Options
	log    *zap.SugaredLogger

	router *mux.Router
	http   *http.Server
}

func NewServer(store order.Store, q Queue, events Events, opts Options, log *zap.SugaredLogger) *Server {
	s := &Server{
		store:  store,
		queue:  q,
		events: events,
		opts:   opts,
		log:    log,
		router: mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Order endpoints. The query-string stream must be matched before
	// /orders/{orderId}.
	api.HandleFunc("/orders/execute", s.handleExecuteOrder).Methods("POST")
	api.HandleFunc("/orders/ws", s.handleOrderStream).Methods("GET")
	api.HandleFunc("/orders/{orderId}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/{orderId}/ws", s.handleOrderStream).Methods("GET")

	// Queue introspection
	api.HandleFunc("/jobs/{jobId}", s.handleGetJob).Methods("GET")
	api.HandleFunc("/queue/stats", s.handleQueueStats).Methods("GET")

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// Handler returns the router wrapped in the CORS middleware.
func (s *Server) Handler() http.Handler {
	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(s.router)
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Infow("api_server_starting", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleExecuteOrder(w http.ResponseWriter, r *http.Request) {
	var req ExecuteOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Validation error", "invalid JSON body")
		return
	}
	if err := validateExecute(req); err != nil {
		respondError(w, http.StatusBadRequest, "Validation error", err.Error())
		return
	}

	o, err := s.store.CreateOrder(r.Context(), req.Request)
	if err != nil {
		s.log.Errorw("order_create_failed", "error", err)
		respondError(w, http.StatusInternalServerError, "Internal server error", err.Error())
		return
	}

	delay := time.Duration(req.DelayMs) * time.Millisecond
	if _, _, err := s.queue.Enqueue(o.ID, order.JobDataOf(o), queue.Options{Delay: delay}); err != nil {
		s.log.Errorw("order_enqueue_failed", "order_id", o.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "Internal server error", err.Error())
		return
	}

	s.log.Infow("order_accepted",
		"order_id", o.ID,
		"type", o.Type,
		"token_in", o.TokenIn,
		"token_out", o.TokenOut,
		"amount", o.Amount,
		"limit_price", o.LimitPrice,
		"delay", delay)
	respondJSON(w, ExecuteOrderResponse{OrderID: o.ID})
}

func validateExecute(req ExecuteOrderRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	switch {
	case req.DelayMs < 0:
		return &order.ValidationError{Field: "delayMs", Reason: "must not be negative"}
	case req.DelayMs > 0 && req.Type != order.TypeSniper:
		return &order.ValidationError{Field: "delayMs", Reason: "only allowed for sniper orders"}
	case req.DelayMs > MaxOrderDelay.Milliseconds():
		return &order.ValidationError{Field: "delayMs", Reason: fmt.Sprintf("must not exceed %d", MaxOrderDelay.Milliseconds())}
	}
	return nil
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["orderId"]

	o, err := s.store.GetOrder(r.Context(), id)
	if errors.Is(err, order.ErrNotFound) {
		respondError(w, http.StatusNotFound, "order not found", id)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Internal server error", err.Error())
		return
	}
	respondJSON(w, o)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["jobId"]

	job, ok := s.queue.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "job not found", id)
		return
	}
	respondJSON(w, job)
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, QueueStats{Counts: s.queue.Counts(), Venues: s.opts.Venues})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, HealthResponse{Status: "ok", Time: time.Now().UTC()})
}

// ==============================
// Helper Functions
// ==============================

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}

func orderIDFrom(r *http.Request) string {
	if id := mux.Vars(r)["orderId"]; id != "" {
		return id
	}
	return r.URL.Query().Get("orderId")
}
