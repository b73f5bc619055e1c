// Package api provides the HTTP query interface over the in-memory worker
// registry.
package api

import (
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tos-network/statsserver/internal/registry"
	"github.com/tos-network/statsserver/internal/share"
	"github.com/tos-network/statsserver/internal/stats"
	"github.com/tos-network/statsserver/internal/util"
)

// maxWorkerIDs bounds how many workerId values one /worker_status call may
// request at once.
const maxWorkerIDs = 100

// Server is the QueryAPI HTTP server.
type Server struct {
	cfg    Config
	reg    *registry.Registry
	router *gin.Engine
	server *http.Server

	startedAt time.Time

	requestCount  uint64
	responseBytes uint64
}

// Config controls the listen address.
type Config struct {
	Bind string
}

// NewServer builds the gin router and wires every route.
func NewServer(cfg Config, reg *registry.Registry) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		cfg:       cfg,
		reg:       reg,
		router:    router,
		startedAt: time.Now(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	s.router.Use(s.accountingMiddleware())

	s.router.GET("/", s.handleServerStatus)
	s.router.GET("/worker_status", s.handleWorkerStatus)
	s.router.GET("/healthz", s.handleHealthz)
}

// accountingMiddleware increments requestCount once per request and, for
// successful responses (status below 400), adds the body size the handler
// wrote to responseBytes.
func (s *Server) accountingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		atomic.AddUint64(&s.requestCount, 1)
		c.Next()
		if c.Writer.Status() < http.StatusBadRequest && c.Writer.Size() > 0 {
			atomic.AddUint64(&s.responseBytes, uint64(c.Writer.Size()))
		}
	}
}

// Start begins serving in the background.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.cfg.Bind,
		Handler: s.router,
	}

	util.Infof("API server listening on %s", s.cfg.Bind)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Errorf("API server error: %v", err)
		}
	}()

	return nil
}

// Stop shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// ServerStatus is the GET / response.
type ServerStatus struct {
	Uptime        int64              `json:"uptime_seconds"`
	RequestCount  uint64             `json:"request_count"`
	WorkerCount   int64              `json:"worker_count"`
	UserCount     int64              `json:"user_count"`
	ResponseBytes uint64             `json:"response_bytes"`
	PoolStatus    stats.WorkerStatus `json:"pool_status"`
}

func (s *Server) handleServerStatus(c *gin.Context) {
	status := ServerStatus{
		Uptime:        int64(time.Since(s.startedAt).Seconds()),
		RequestCount:  atomic.LoadUint64(&s.requestCount),
		WorkerCount:   s.reg.TotalWorkers(),
		UserCount:     s.reg.TotalUsers(),
		ResponseBytes: atomic.LoadUint64(&s.responseBytes),
		PoolStatus:    s.reg.Pool().GetStatus(time.Now().Unix()),
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleWorkerStatus implements GET /worker_status per §4.6: user_id is
// required, worker_id is a CSV of up to maxWorkerIDs int64 values, and
// is_merge=1 combines every result into one WorkerStatus (§4.7).
func (s *Server) handleWorkerStatus(c *gin.Context) {
	userIDStr := c.Query("user_id")
	if userIDStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	userID, err := strconv.ParseInt(userIDStr, 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id must be an integer"})
		return
	}

	workerIDsStr := strings.Split(c.Query("worker_id"), ",")
	workerIDs := make([]int64, 0, len(workerIDsStr))
	for _, w := range workerIDsStr {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		wid, err := strconv.ParseInt(w, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "worker_id must be a comma-separated list of integers"})
			return
		}
		workerIDs = append(workerIDs, wid)
	}
	if len(workerIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "worker_id is required"})
		return
	}
	if len(workerIDs) > maxWorkerIDs {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many worker_id values"})
		return
	}

	now := time.Now().Unix()
	statuses := make([]stats.WorkerStatus, len(workerIDs))
	for i, wid := range workerIDs {
		key := share.WorkerKey{UserID: int32(userID), WorkerID: wid}
		ws := s.reg.Get(key)
		if ws == nil {
			statuses[i] = stats.WorkerStatus{}
			continue
		}
		statuses[i] = ws.GetStatus(now)
	}

	if c.Query("is_merge") == "1" {
		c.JSON(http.StatusOK, stats.Merge(statuses))
		return
	}

	byWorker := make(map[int64]stats.WorkerStatus, len(workerIDs))
	for i, wid := range workerIDs {
		byWorker[wid] = statuses[i]
	}
	c.JSON(http.StatusOK, byWorker)
}
