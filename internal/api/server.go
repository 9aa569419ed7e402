// Package api provides the REST API server.
package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/gin-gonic/gin"
	"github.com/zeebo/blake3"

	"github.com/tos-network/poolwatch/internal/alerts"
	"github.com/tos-network/poolwatch/internal/coins"
	"github.com/tos-network/poolwatch/internal/config"
	"github.com/tos-network/poolwatch/internal/metrics"
	"github.com/tos-network/poolwatch/internal/newrelic"
	"github.com/tos-network/poolwatch/internal/pools"
	"github.com/tos-network/poolwatch/internal/prices"
	"github.com/tos-network/poolwatch/internal/rpc"
	"github.com/tos-network/poolwatch/internal/storage"
	"github.com/tos-network/poolwatch/internal/util"
)

const (
	defaultAlertLimit = 50
	maxCacheSizeMB    = 64
)

// Deps are the services the API reads from.
type Deps struct {
	Client   *rpc.PoolClient
	Prices   *prices.Cache
	Store    storage.Store
	Metrics  *metrics.Metrics
	NewRelic *newrelic.Agent
}

// Server is the API server
type Server struct {
	cfg     *config.Config
	client  *rpc.PoolClient
	prices  *prices.Cache
	store   storage.Store
	metrics *metrics.Metrics
	nr      *newrelic.Agent
	stale   *pools.StaleFilter
	hub     *Hub

	// Cache of /api/pool-stats bodies
	statsCache *bigcache.BigCache

	router *gin.Engine
	server *http.Server
}

// PoolStatsResponse is the /api/pool-stats response
type PoolStatsResponse struct {
	Pool      string          `json:"pool"`
	Coin      string          `json:"coin"`
	Address   string          `json:"address"`
	Stats     pools.PoolStats `json:"stats"`
	Stale     bool            `json:"stale"`
	FetchedAt int64           `json:"fetchedAt"`
}

// PoolInfo is an entry of the /api/pools response
type PoolInfo struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Coins  []string        `json:"coins"`
	Health *rpc.PoolHealth `json:"health,omitempty"`
}

// WalletResponse is the /api/wallets/:id response
type WalletResponse struct {
	Wallet   config.WalletConfig     `json:"wallet"`
	Snapshot *storage.WalletSnapshot `json:"snapshot"`
	State    *alerts.WalletState     `json:"state"`
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	cacheCfg := bigcache.DefaultConfig(cfg.API.StatsCache)
	cacheCfg.Shards = 64
	cacheCfg.MaxEntriesInWindow = 1024
	cacheCfg.MaxEntrySize = 4096
	cacheCfg.HardMaxCacheSize = maxCacheSizeMB
	cacheCfg.Verbose = false
	cache, err := bigcache.New(context.Background(), cacheCfg)
	if err != nil {
		return nil, fmt.Errorf("create stats cache: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		cfg:        cfg,
		client:     deps.Client,
		prices:     deps.Prices,
		store:      deps.Store,
		metrics:    deps.Metrics,
		nr:         deps.NewRelic,
		stale:      pools.NewStaleFilter(cfg.Poll.StaleAfter),
		hub:        NewHub(cfg.API.CORSOrigins),
		statsCache: cache,
		router:     router,
	}

	s.setupRoutes()
	return s, nil
}

// Hub returns the WebSocket hub, which doubles as an alert sink.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures API endpoints
func (s *Server) setupRoutes() {
	s.router.Use(corsMiddleware(s.cfg.API.CORSOrigins))
	if s.nr != nil && s.nr.IsEnabled() {
		s.router.Use(s.newRelicMiddleware())
	}

	api := s.router.Group("/api")
	{
		api.GET("/pool-stats", s.handlePoolStats)
		api.GET("/pools", s.handlePools)
		api.GET("/coins", s.handleCoins)
		api.GET("/prices", s.handlePrices)
		api.GET("/wallets", s.handleWallets)
		api.GET("/wallets/:id", s.handleWallet)
		api.GET("/alerts", s.handleAlerts)
	}

	if s.cfg.API.WebSocket {
		s.router.GET("/ws", gin.WrapF(s.hub.ServeWS))
	}

	if s.cfg.Metrics.Enabled && s.metrics != nil {
		s.router.GET(s.cfg.Metrics.Path, gin.WrapH(s.metrics.Handler()))
	}

	if s.cfg.Profiling.Enabled {
		debug := s.router.Group("/debug/pprof")
		{
			debug.GET("/", gin.WrapF(pprof.Index))
			debug.GET("/cmdline", gin.WrapF(pprof.Cmdline))
			debug.GET("/profile", gin.WrapF(pprof.Profile))
			debug.GET("/symbol", gin.WrapF(pprof.Symbol))
			debug.POST("/symbol", gin.WrapF(pprof.Symbol))
			debug.GET("/trace", gin.WrapF(pprof.Trace))
			debug.GET("/:profile", func(c *gin.Context) {
				pprof.Handler(c.Param("profile")).ServeHTTP(c.Writer, c.Request)
			})
		}
		util.Info("pprof endpoints enabled at /debug/pprof")
	}

	// Health check
	s.router.GET("/health", s.handleHealth)
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	allowAll := len(origins) == 0
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case allowAll:
			c.Header("Access-Control-Allow-Origin", "*")
		case allowed[origin]:
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, If-None-Match")
		c.Header("Access-Control-Expose-Headers", "ETag")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (s *Server) newRelicMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.FullPath()
		if name == "" {
			name = "NotFound"
		}
		txn := s.nr.StartTransaction(c.Request.Method + " " + name)
		defer txn.End()

		txn.SetWebRequestHTTP(c.Request)
		c.Request = c.Request.WithContext(s.nr.NewContext(c.Request.Context(), txn))
		c.Next()
		txn.SetWebResponse(nil).WriteHeader(c.Writer.Status())
	}
}

// Start begins the API server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.cfg.API.Bind,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	util.Infof("API server listening on %s", s.cfg.API.Bind)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Errorf("API server error: %v", err)
		}
	}()

	return nil
}

// Stop shuts down the API server
func (s *Server) Stop() error {
	s.hub.Close()
	s.statsCache.Close()
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handlePoolStats fetches and normalizes one wallet on demand. Bodies are
// cached for api.stats_cache and served with a content ETag.
func (s *Server) handlePoolStats(c *gin.Context) {
	poolID := strings.ToLower(strings.TrimSpace(c.Query("pool")))
	coin := strings.ToLower(strings.TrimSpace(c.Query("coin")))
	address := strings.TrimSpace(c.Query("address"))

	if poolID == "" || coin == "" || address == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pool, coin and address are required"})
		return
	}

	key := poolID + "|" + coin + "|" + address
	if body, err := s.statsCache.Get(key); err == nil {
		util.Debugf("Pool stats cache hit for %s/%s", poolID, coin)
		c.Header("X-Cache", "HIT")
		s.writeTagged(c, body)
		return
	}

	start := time.Now()
	stats, err := s.client.FetchWithRetry(c.Request.Context(), poolID, coin, address)
	s.metrics.ObservePoolFetch(poolID, time.Since(start), err)
	if err != nil {
		status := errorStatus(err)
		if status >= http.StatusInternalServerError {
			util.Warnf("Pool stats %s/%s failed: %v", poolID, coin, err)
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	response := PoolStatsResponse{
		Pool:      poolID,
		Coin:      coin,
		Address:   address,
		Stats:     s.stale.Apply(stats),
		Stale:     s.stale.IsStale(stats),
		FetchedAt: time.Now().UnixMilli(),
	}
	body, err := json.Marshal(response)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to encode stats"})
		return
	}

	if err := s.statsCache.Set(key, body); err != nil {
		util.Debugf("Pool stats cache set failed: %v", err)
	}
	c.Header("X-Cache", "MISS")
	s.writeTagged(c, body)
}

// writeTagged writes a JSON body with its ETag, or 304 when the client
// already holds it.
func (s *Server) writeTagged(c *gin.Context, body []byte) {
	tag := etag(body)
	c.Header("ETag", tag)
	c.Header("Cache-Control", fmt.Sprintf("max-age=%d", int(s.cfg.API.StatsCache.Seconds())))

	if match := c.GetHeader("If-None-Match"); match != "" && match == tag {
		c.Status(http.StatusNotModified)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

func etag(body []byte) string {
	sum := blake3.Sum256(body)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

// errorStatus maps fetch errors to HTTP status codes.
func errorStatus(err error) int {
	var (
		notFound *pools.WalletNotFoundError
		reported *pools.PoolReportedError
	)
	switch {
	case pools.IsConfigError(err), errors.Is(err, rpc.ErrEmptyAddress):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &reported):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

// handlePools lists supported pools with their health
func (s *Server) handlePools(c *gin.Context) {
	health := make(map[string]rpc.PoolHealth)
	for _, h := range s.client.Health() {
		health[h.Pool] = h
	}

	registry := s.client.Registry().Pools()
	response := make([]PoolInfo, 0, len(registry))
	for _, p := range registry {
		info := PoolInfo{ID: p.ID, Name: p.Name, Coins: p.Coins}
		if h, ok := health[p.ID]; ok {
			info.Health = &h
		}
		response = append(response, info)
	}

	c.JSON(http.StatusOK, gin.H{"pools": response})
}

// handleCoins lists the coin table
func (s *Server) handleCoins(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"coins": coins.All()})
}

// handlePrices returns USD quotes. Without a symbols parameter it quotes
// the coins of the configured wallets.
func (s *Server) handlePrices(c *gin.Context) {
	var symbols []string
	if raw := c.Query("symbols"); raw != "" {
		for _, sym := range strings.Split(raw, ",") {
			if sym = strings.TrimSpace(sym); sym != "" {
				symbols = append(symbols, strings.ToLower(sym))
			}
		}
	} else {
		seen := make(map[string]bool)
		for _, w := range s.cfg.Wallets {
			if !seen[w.Coin] {
				seen[w.Coin] = true
				symbols = append(symbols, w.Coin)
			}
		}
	}

	if len(symbols) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbols is required"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"prices": s.prices.GetPrices(c.Request.Context(), symbols)})
}

// handleWallets returns the latest snapshot of every wallet
func (s *Server) handleWallets(c *gin.Context) {
	snaps, err := s.store.GetSnapshots()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get wallets"})
		return
	}
	if snaps == nil {
		snaps = []*storage.WalletSnapshot{}
	}
	c.JSON(http.StatusOK, gin.H{"wallets": snaps})
}

// handleWallet returns one configured wallet with its snapshot and alert state
func (s *Server) handleWallet(c *gin.Context) {
	w, ok := s.cfg.Wallet(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Wallet not found"})
		return
	}

	snap, err := s.store.GetSnapshot(w.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get snapshot"})
		return
	}
	state, err := s.store.GetWalletState(w.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get wallet state"})
		return
	}

	c.JSON(http.StatusOK, WalletResponse{Wallet: w, Snapshot: snap, State: state})
}

// handleAlerts returns recent alert events, newest first
func (s *Server) handleAlerts(c *gin.Context) {
	limit := int64(defaultAlertLimit)
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = n
	}
	if limit > storage.MaxEvents {
		limit = storage.MaxEvents
	}

	events, err := s.store.GetRecentEvents(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get alerts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": events})
}

// handleHealth reports store reachability and unhealthy pools
func (s *Server) handleHealth(c *gin.Context) {
	var unhealthy []string
	for _, h := range s.client.Health() {
		if !h.Healthy {
			unhealthy = append(unhealthy, h.Pool)
		}
	}

	if err := s.store.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"unhealthyPools": unhealthy,
		"wsClients":      s.hub.ClientCount(),
	})
}
