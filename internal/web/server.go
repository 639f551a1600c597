package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"

	"github.com/loopyield/lfm/internal/logger"
	"github.com/loopyield/lfm/internal/manager"
	"github.com/loopyield/lfm/internal/state"
	"github.com/loopyield/lfm/internal/trigger"
	"github.com/loopyield/lfm/internal/types"
	"github.com/loopyield/lfm/internal/utils"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer exposes read-only strategy status over HTTP. It never mutates
// lifecycle state; all writes go through the manager and trigger operations.
type WebServer struct {
	router  *mux.Router
	port    string
	manager *manager.Manager
	trigger *trigger.Trigger

	stableDecimals     int
	collateralDecimals int
}

// NewWebServer creates a new web server instance.
func NewWebServer(port string, m *manager.Manager, t *trigger.Trigger, stableDecimals, collateralDecimals int) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router:             mux.NewRouter(),
		port:               port,
		manager:            m,
		trigger:            t,
		stableDecimals:     stableDecimals,
		collateralDecimals: collateralDecimals,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/positions", ws.handleGetPositions).Methods("GET")
	api.HandleFunc("/positions/{owner}", ws.handleGetPosition).Methods("GET")
	api.HandleFunc("/harvests", ws.handleGetHarvests).Methods("GET")
	api.HandleFunc("/unwinds", ws.handleGetUnwinds).Methods("GET")
	api.HandleFunc("/pools", ws.handleGetPools).Methods("GET")
	api.HandleFunc("/counters/{certificate}", ws.handleGetCounter).Methods("GET")

	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth returns server and database health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbHealthy := true
	if err := state.TestDBConnection(); err != nil {
		dbHealthy = false
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !dbHealthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	ws.writeJSON(w, httpStatus, map[string]interface{}{
		"status":           status,
		"database_healthy": dbHealthy,
		"active_positions": len(ws.manager.ActivePositions()),
		"timestamp":        time.Now().UTC(),
	})
}

// positionView decorates a position with its live trade counter.
type positionView struct {
	types.Position
	TradeCount uint64 `json:"trade_count"`
}

func (ws *WebServer) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	positions := ws.manager.ActivePositions()
	views := make([]positionView, 0, len(positions))
	for _, p := range positions {
		count, err := state.GetTradeCounter(p.Certificate)
		if err != nil {
			webLogger.Error().Err(err).Uint64("certificate", uint64(p.Certificate)).Msg("Failed to read trade counter")
		}
		views = append(views, positionView{Position: p, TradeCount: count})
	}

	ws.writeJSON(w, http.StatusOK, map[string]interface{}{
		"positions": views,
		"count":     len(views),
	})
}

func (ws *WebServer) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["owner"]
	if !common.IsHexAddress(raw) {
		ws.writeError(w, http.StatusBadRequest, "invalid owner address")
		return
	}

	position, ok := ws.manager.Position(common.HexToAddress(raw))
	if !ok {
		ws.writeError(w, http.StatusNotFound, "no active position for owner")
		return
	}

	count, err := state.GetTradeCounter(position.Certificate)
	if err != nil {
		webLogger.Error().Err(err).Uint64("certificate", uint64(position.Certificate)).Msg("Failed to read trade counter")
	}

	ws.writeJSON(w, http.StatusOK, positionView{Position: position, TradeCount: count})
}

// harvestView adds display-friendly amounts to a harvest receipt.
type harvestView struct {
	types.HarvestReceipt
	DebtRepaidDisplay         float64 `json:"debt_repaid_display"`
	CollateralSuppliedDisplay float64 `json:"collateral_supplied_display"`
}

func (ws *WebServer) handleGetHarvests(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)

	receipts, err := state.GetRecentHarvests(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to query harvest receipts")
		ws.writeError(w, http.StatusInternalServerError, "failed to query harvest receipts")
		return
	}

	views := make([]harvestView, 0, len(receipts))
	for _, receipt := range receipts {
		view := harvestView{HarvestReceipt: receipt}
		if v, err := utils.SDKIntToFloat64(receipt.DebtRepaid, ws.stableDecimals); err == nil {
			view.DebtRepaidDisplay = v
		}
		if v, err := utils.SDKIntToFloat64(receipt.CollateralSupplied, ws.collateralDecimals); err == nil {
			view.CollateralSuppliedDisplay = v
		}
		views = append(views, view)
	}

	ws.writeJSON(w, http.StatusOK, map[string]interface{}{
		"harvests": views,
		"count":    len(views),
	})
}

func (ws *WebServer) handleGetUnwinds(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)

	receipts, err := state.GetRecentUnwinds(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to query unwind receipts")
		ws.writeError(w, http.StatusInternalServerError, "failed to query unwind receipts")
		return
	}

	ws.writeJSON(w, http.StatusOK, map[string]interface{}{
		"unwinds": receipts,
		"count":   len(receipts),
	})
}

func (ws *WebServer) handleGetPools(w http.ResponseWriter, r *http.Request) {
	pools := ws.trigger.AuthorizedPools()
	hexes := make([]string, 0, len(pools))
	for _, pool := range pools {
		hexes = append(hexes, pool.Hex())
	}

	ws.writeJSON(w, http.StatusOK, map[string]interface{}{
		"authorized_pools": hexes,
		"count":            len(hexes),
	})
}

func (ws *WebServer) handleGetCounter(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["certificate"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		ws.writeError(w, http.StatusBadRequest, "invalid certificate id")
		return
	}

	count, err := state.GetTradeCounter(types.CertificateID(id))
	if err != nil {
		webLogger.Error().Err(err).Uint64("certificate", id).Msg("Failed to read trade counter")
		ws.writeError(w, http.StatusInternalServerError, "failed to read trade counter")
		return
	}

	ws.writeJSON(w, http.StatusOK, map[string]interface{}{
		"certificate_id": id,
		"trade_count":    count,
	})
}

// parseLimit reads the optional ?limit= query parameter.
func parseLimit(r *http.Request) int {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			limit = v
		}
	}
	return limit
}

func (ws *WebServer) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (ws *WebServer) writeError(w http.ResponseWriter, status int, message string) {
	ws.writeJSON(w, status, map[string]string{"error": message})
}

// corsMiddleware adds CORS headers to all responses
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs all HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		webLogger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
