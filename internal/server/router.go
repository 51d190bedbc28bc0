package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/sentryd/internal/metrics"
	"github.com/loykin/sentryd/internal/state"
	"github.com/loykin/sentryd/internal/store"
)

// Router exposes the persisted supervisor snapshot over HTTP.
// Endpoints:
//
//	GET {basePath}/status   full persisted snapshot
//	GET {basePath}/healthz  {ok, phase}
//	GET {basePath}/metrics  Prometheus exposition
//
// The router only reads the store; it never touches live engine state, so it
// can be served from any goroutine.
type Router struct {
	st       store.Store
	name     string
	basePath string
}

// NewRouter constructs a Router reading snapshots for name from st.
func NewRouter(st store.Store, name, basePath string) *Router {
	return &Router{st: st, name: name, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server/mux.
func (r *Router) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/healthz", r.handleHealthz)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr serving this router.
func NewServer(addr, basePath, name string, st store.Store) *http.Server {
	r := NewRouter(st, name, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

type errorResp struct {
	Error string `json:"error"`
}

type healthResp struct {
	OK    bool        `json:"ok"`
	Phase state.Phase `json:"phase"`
}

func (r *Router) handleStatus(c *gin.Context) {
	rec, err := r.st.Load(c.Request.Context(), r.name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, errorResp{Error: "no snapshot recorded"})
			return
		}
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", rec.Snapshot)
}

func (r *Router) handleHealthz(c *gin.Context) {
	rec, err := r.st.Load(c.Request.Context(), r.name)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, healthResp{OK: false})
		return
	}
	var snap state.State
	if err := json.Unmarshal(rec.Snapshot, &snap); err != nil {
		c.JSON(http.StatusServiceUnavailable, healthResp{OK: false})
		return
	}
	ok := snap.Phase == state.PhaseRunning || snap.Phase == state.PhaseWarning
	code := http.StatusOK
	if !ok {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, healthResp{OK: ok, Phase: snap.Phase})
}

func sanitizeBase(basePath string) string {
	bp := strings.TrimSpace(basePath)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimSuffix(bp, "/")
}
