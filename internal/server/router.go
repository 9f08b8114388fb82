package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	mng "github.com/fordtom/minions/internal/manager"
	"github.com/fordtom/minions/internal/metrics"
)

// Router provides embeddable HTTP handlers for managing processes.
// Endpoints, relative to basePath:
//
//	GET    /processes                 list with state
//	POST   /processes                 create
//	POST   /processes/reconcile       mark dead RUNNING records STOPPED
//	GET    /processes/:id             one with state
//	PUT    /processes/:id             replace definition (STOPPED only)
//	DELETE /processes/:id             terminate if running, then delete
//	POST   /processes/:id/start
//	POST   /processes/:id/stop
//	GET    /processes/:id/history     lifecycle events, ?limit=N
//	GET    /processes/:id/resources   CPU and memory samples
//	GET    /healthz
//
// Every response uses the envelope {success, data, error, code}.
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	mgr       *mng.Manager
	basePath  string
	log       *slog.Logger
	resources *metrics.ResourceCollector
	metricsH  http.Handler
}

type RouterOption func(*Router)

func WithLogger(l *slog.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.log = l
		}
	}
}

// WithResources exposes samples from rc under /processes/:id/resources.
func WithResources(rc *metrics.ResourceCollector) RouterOption {
	return func(r *Router) { r.resources = rc }
}

// WithMetricsHandler serves h at /metrics, outside basePath.
func WithMetricsHandler(h http.Handler) RouterOption {
	return func(r *Router) { r.metricsH = h }
}

func NewRouter(mgr *mng.Manager, basePath string, opts ...RouterOption) *Router {
	r := &Router{mgr: mgr, basePath: sanitizeBase(basePath), log: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), requestID(r.log))
	g.HandleMethodNotAllowed = true
	g.NoRoute(func(c *gin.Context) {
		fail(c, http.StatusNotFound, mng.KindNotFound, "route not found")
	})
	g.NoMethod(func(c *gin.Context) {
		fail(c, http.StatusMethodNotAllowed, mng.KindValidation, "method not allowed")
	})

	group := g.Group(r.basePath)
	group.GET("/healthz", r.handleHealth)
	group.GET("/processes", r.handleList)
	group.POST("/processes", r.handleCreate)
	group.POST("/processes/reconcile", r.handleReconcile)
	group.GET("/processes/:id", r.handleGet)
	group.PUT("/processes/:id", r.handleUpdate)
	group.DELETE("/processes/:id", r.handleDelete)
	group.POST("/processes/:id/start", r.handleStart)
	group.POST("/processes/:id/stop", r.handleStop)
	group.GET("/processes/:id/history", r.handleHistory)
	group.GET("/processes/:id/resources", r.handleResources)

	if r.metricsH != nil {
		g.GET("/metrics", gin.WrapH(r.metricsH))
	}
	return g
}

// NewServer wraps h in an http.Server with conservative timeouts. The write
// timeout leaves room for a stop that escalates to SIGKILL.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// --- Handlers ---

func (r *Router) handleHealth(c *gin.Context) {
	if err := r.mgr.Ping(c.Request.Context()); err != nil {
		fail(c, http.StatusServiceUnavailable, mng.KindInternal, "store unavailable: "+err.Error())
		return
	}
	ok(c, http.StatusOK, gin.H{"status": "ok"})
}

func (r *Router) handleList(c *gin.Context) {
	out, err := r.mgr.List(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, out)
}

func (r *Router) handleGet(c *gin.Context) {
	id, good := pathID(c)
	if !good {
		return
	}
	p, err := r.mgr.Get(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

func (r *Router) handleCreate(c *gin.Context) {
	var in mng.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, mng.KindValidation, "invalid JSON: "+err.Error())
		return
	}
	p, err := r.mgr.Create(c.Request.Context(), in)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, p)
}

func (r *Router) handleUpdate(c *gin.Context) {
	id, good := pathID(c)
	if !good {
		return
	}
	var in mng.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, mng.KindValidation, "invalid JSON: "+err.Error())
		return
	}
	p, err := r.mgr.Update(c.Request.Context(), id, in)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

func (r *Router) handleDelete(c *gin.Context) {
	id, good := pathID(c)
	if !good {
		return
	}
	deleted, err := r.mgr.Delete(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"id": deleted})
}

func (r *Router) handleStart(c *gin.Context) {
	id, good := pathID(c)
	if !good {
		return
	}
	p, err := r.mgr.Start(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

func (r *Router) handleStop(c *gin.Context) {
	id, good := pathID(c)
	if !good {
		return
	}
	p, err := r.mgr.Stop(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

func (r *Router) handleReconcile(c *gin.Context) {
	ids, err := r.mgr.Reconcile(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"reconciled": ids})
}

func (r *Router) handleHistory(c *gin.Context) {
	id, good := pathID(c)
	if !good {
		return
	}
	limit := 50
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 1000 {
			fail(c, http.StatusBadRequest, mng.KindValidation, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	evs, err := r.mgr.History(c.Request.Context(), id, limit)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, evs)
}

func (r *Router) handleResources(c *gin.Context) {
	id, good := pathID(c)
	if !good {
		return
	}
	if r.resources == nil || !r.resources.Enabled() {
		fail(c, http.StatusNotFound, mng.KindNotFound, "resource collection is disabled")
		return
	}
	if _, err := r.mgr.Get(c.Request.Context(), id); err != nil {
		failErr(c, err)
		return
	}
	key := strconv.FormatInt(id, 10)
	latest, _ := r.resources.Latest(key)
	ok(c, http.StatusOK, gin.H{"latest": latest, "history": r.resources.History(key)})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		fail(c, http.StatusBadRequest, mng.KindValidation, "invalid process id "+strconv.Quote(c.Param("id")))
		return 0, false
	}
	return id, true
}

// statusFor maps an error kind to its HTTP status.
func statusFor(k mng.Kind) int {
	switch k {
	case mng.KindValidation, mng.KindUnsupportedShellOperator:
		return http.StatusBadRequest
	case mng.KindNotFound:
		return http.StatusNotFound
	case mng.KindInvalidState, mng.KindAlreadyRunning, mng.KindAlreadyStopped:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func failErr(c *gin.Context, err error) {
	k := mng.KindOf(err)
	if k == "" {
		k = mng.KindInternal
		err = errors.New("unknown error")
	}
	fail(c, statusFor(k), k, err.Error())
}
