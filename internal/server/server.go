// Package server orchestrates all components: COMMS client, resolution table, dispatcher,
// registration scheduler, event hub, and the HTTP admin surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/morezero/app-gateway/internal/config"
	"github.com/morezero/app-gateway/pkg/commsutil"
	"github.com/morezero/app-gateway/pkg/db"
	"github.com/morezero/app-gateway/pkg/dispatcher"
	"github.com/morezero/app-gateway/pkg/events"
	"github.com/morezero/app-gateway/pkg/metrics"
	"github.com/morezero/app-gateway/pkg/permissions"
	"github.com/morezero/app-gateway/pkg/resolver"
	"github.com/morezero/app-gateway/pkg/scheduler"
	"github.com/morezero/app-gateway/pkg/services"
)

const logPrefix = "server:server"

// pinger is the part of the database pool the health check uses.
type pinger interface {
	Ping(ctx context.Context) error
}

// Params holds the collaborators for New. Only Config is required.
type Params struct {
	Config *config.Config
	// Conn carries gateway traffic. Nil leaves the COMMS subjects unsubscribed.
	Conn *comms.Conn
	// Pool is checked by /health when set.
	Pool        *pgxpool.Pool
	Provider    dispatcher.Provider
	Permissions dispatcher.PermissionChecker
	// Publisher defaults to a CommsPublisher on Conn, or a no-op without one.
	Publisher events.EventPublisher
}

// Server is the app-gateway orchestrator.
type Server struct {
	cfg        *config.Config
	nc         *comms.Conn
	db         pinger
	resolver   *resolver.Resolver
	dispatcher *dispatcher.Dispatcher
	scheduler  *scheduler.Scheduler
	hub        *events.Hub
	limiter    *appLimiter
	registry   *prometheus.Registry
	metrics    *metrics.Collector
	httpServer *http.Server

	mu      sync.Mutex
	baseCtx context.Context
	subs    []*comms.Subscription
	ready   atomic.Bool
	reload  sync.Mutex
}

// New builds a stopped Server and loads the configured resolution files.
func New(p Params) (*Server, error) {
	if p.Config == nil {
		return nil, fmt.Errorf("%s - config is required", logPrefix)
	}
	cfg := p.Config

	publisher := p.Publisher
	if publisher == nil {
		if p.Conn != nil {
			publisher = events.NewCommsPublisher(p.Conn, nil)
		} else {
			publisher = &events.NoOpPublisher{}
		}
	}

	s := &Server{
		cfg:      cfg,
		nc:       p.Conn,
		resolver: resolver.NewResolver(),
		hub:      events.NewHub(publisher),
		limiter:  newAppLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, 0),
		registry: prometheus.NewRegistry(),
		baseCtx:  context.Background(),
	}
	if p.Pool != nil {
		s.db = p.Pool
	}

	s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s.metrics = metrics.NewCollector(s.registry)

	s.scheduler = scheduler.New(s.hub,
		scheduler.WithWorkerCount(cfg.Workers),
		scheduler.WithQueueSize(cfg.QueueSize),
		scheduler.WithTaskTimeout(cfg.TaskTimeout),
		scheduler.WithObserver(s.metrics),
	)
	s.metrics.TrackQueueDepth(s.registry, s.scheduler.QueueDepth)
	s.metrics.TrackResolutions(s.registry, s.resolver.Len)

	s.dispatcher = dispatcher.NewDispatcher(dispatcher.NewDispatcherParams{
		Resolver:    s.resolver,
		Permissions: p.Permissions,
		Provider:    p.Provider,
		Submitter:   s.scheduler,
		Observer:    s.metrics,
	})

	loaded := s.resolver.LoadAll(cfg.ResolutionFiles...)
	if !s.resolver.IsConfigured() {
		slog.Warn(fmt.Sprintf("%s - No resolution source loaded; every call will be rejected as method not found", logPrefix))
	} else {
		slog.Info(fmt.Sprintf("%s - Loaded %d resolution source(s), %d method(s)", logPrefix, loaded, s.resolver.Len()))
	}
	return s, nil
}

// Dispatcher returns the server's dispatcher.
func (s *Server) Dispatcher() *dispatcher.Dispatcher {
	return s.dispatcher
}

// Hub returns the server's event hub.
func (s *Server) Hub() *events.Hub {
	return s.hub
}

// Start launches the scheduler and subscribes to the gateway subjects.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.scheduler.Start(); err != nil {
		return fmt.Errorf("%s - failed to start scheduler: %w", logPrefix, err)
	}
	s.baseCtx = ctx

	if s.nc != nil {
		if err := s.subscribe(); err != nil {
			s.unsubscribe()
			_ = s.scheduler.Stop(ctx)
			return err
		}
	}
	s.ready.Store(true)
	return nil
}

func (s *Server) subscribe() error {
	requestSubject := s.cfg.RequestSubject
	if requestSubject == "" {
		requestSubject = commsutil.SubjectRequest
	}
	emitSubject := s.cfg.EmitSubject
	if emitSubject == "" {
		emitSubject = commsutil.SubjectEmit
	}

	// Requests are load-balanced across gateway instances; emissions and
	// disconnects reach every instance since each holds its own listeners.
	sub, err := s.nc.QueueSubscribe(requestSubject, s.cfg.COMMSName, s.handleRequest)
	if err != nil {
		return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, requestSubject, err)
	}
	s.subs = append(s.subs, sub)
	slog.Info(fmt.Sprintf("%s - Subscribed to %s (queue %s)", logPrefix, requestSubject, s.cfg.COMMSName))

	for subject, handler := range map[string]comms.MsgHandler{
		emitSubject:                 s.handleEmit,
		commsutil.SubjectDisconnect: s.handleDisconnect,
	} {
		sub, err := s.nc.Subscribe(subject, handler)
		if err != nil {
			return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, subject, err)
		}
		s.subs = append(s.subs, sub)
		slog.Info(fmt.Sprintf("%s - Subscribed to %s", logPrefix, subject))
	}
	return s.nc.Flush()
}

func (s *Server) unsubscribe() {
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, comms.ErrConnectionClosed) {
			slog.Warn(fmt.Sprintf("%s - unsubscribe %s: %v", logPrefix, sub.Subject, err))
		}
	}
	s.subs = nil
}

// Shutdown stops taking traffic and drains pending registrations until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ready.Store(false)
	s.unsubscribe()
	if err := s.scheduler.Stop(ctx); err != nil && !errors.Is(err, scheduler.ErrNotRunning) {
		return fmt.Errorf("%s - scheduler stop: %w", logPrefix, err)
	}
	return nil
}

// Reload re-reads the configured resolution files. Failed files leave the table untouched.
func (s *Server) Reload() int {
	s.reload.Lock()
	defer s.reload.Unlock()

	loaded := s.resolver.LoadAll(s.cfg.ResolutionFiles...)
	slog.Info(fmt.Sprintf("%s - Reloaded %d of %d resolution source(s), %d method(s)",
		logPrefix, loaded, len(s.cfg.ResolutionFiles), s.resolver.Len()))
	return loaded
}

// --- COMMS handlers ---

func (s *Server) handleRequest(msg *comms.Msg) {
	var req dispatcher.GatewayRequest
	if err := commsutil.DecodePayload(msg.Data, &req); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to decode request: %v", logPrefix, err))
		s.metrics.ObserveDispatch("", dispatcher.StatusBadRequest, 0)
		s.respond(msg, dispatcher.ErrorResponse("", dispatcher.CodeBadRequest, dispatcher.MsgDecodeFailed))
		return
	}
	prepareRequest(&req, msg.Header)

	if !s.limiter.Allow(req.Ctx.AppID, time.Now()) {
		slog.Debug(fmt.Sprintf("%s - rate limited app=%s method=%s", logPrefix, req.Ctx.AppID, req.Method))
		s.metrics.ObserveDispatch(req.Method, dispatcher.StatusRateLimited, 0)
		s.respond(msg, dispatcher.ErrorResponse(req.ID, dispatcher.CodeRateLimited, dispatcher.MsgRateLimited))
		return
	}

	reqCtx, cancel := context.WithTimeout(s.context(), s.cfg.RequestTimeout)
	defer cancel()
	s.respond(msg, s.dispatcher.Dispatch(reqCtx, &req))
}

// prepareRequest fills caller identity from headers and guarantees request ids.
func prepareRequest(req *dispatcher.GatewayRequest, h comms.Header) {
	if req.Ctx == nil {
		req.Ctx = &dispatcher.RequestContext{}
	}
	if h != nil {
		if req.Ctx.AppID == "" {
			req.Ctx.AppID = h.Get(commsutil.HeaderAppID)
		}
		if req.Ctx.ConnectionID == "" {
			req.Ctx.ConnectionID = h.Get(commsutil.HeaderConnectionID)
		}
		if req.Ctx.Token == "" {
			req.Ctx.Token = strings.TrimSpace(h.Get(commsutil.HeaderAuthorization))
		}
	}
	if req.Ctx.RequestID == "" {
		req.Ctx.RequestID = req.ID
	}
	if req.Ctx.RequestID == "" {
		req.Ctx.RequestID = uuid.NewString()
	}
	if req.ID == "" {
		req.ID = req.Ctx.RequestID
	}
}

// emitReply acknowledges an emission when the publisher asked for a reply.
type emitReply struct {
	Event     string `json:"event"`
	Delivered int    `json:"delivered"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handleEmit(msg *comms.Msg) {
	var em events.Emission
	if err := commsutil.DecodePayload(msg.Data, &em); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to decode emission: %v", logPrefix, err))
		if msg.Reply != "" {
			s.respond(msg, &emitReply{Error: dispatcher.MsgDecodeFailed})
		}
		return
	}

	ctx, cancel := context.WithTimeout(s.context(), s.cfg.RequestTimeout)
	defer cancel()
	delivered, err := s.hub.Emit(ctx, em.Event, em.Payload)
	reply := &emitReply{Event: em.Event, Delivered: delivered}
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - emit %s: %v", logPrefix, em.Event, err))
		reply.Error = err.Error()
	}
	if msg.Reply != "" {
		s.respond(msg, reply)
	}
}

// disconnectNotice announces that a connection went away.
type disconnectNotice struct {
	ConnectionID string `json:"connectionId"`
	// AppID is informational; cleanup covers every app on the connection.
	AppID string `json:"appId,omitempty"`
}

// handleDisconnect unregisters the connection from every configured event, for every app
// on it. The unregistrations travel through the scheduler so they apply after any
// registration already queued for the same connection.
func (s *Server) handleDisconnect(msg *comms.Msg) {
	var n disconnectNotice
	if err := commsutil.DecodePayload(msg.Data, &n); err != nil || n.ConnectionID == "" {
		slog.Warn(fmt.Sprintf("%s - ignoring malformed disconnect notice: %v", logPrefix, err))
		return
	}

	listener := dispatcher.Listener{ConnectionID: n.ConnectionID}
	for _, event := range s.subscribableEvents() {
		err := s.scheduler.Submit(dispatcher.Registration{Listener: listener, Event: event, WholeConnection: true})
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - scheduling cleanup for %s failed (%v); removing directly", logPrefix, n.ConnectionID, err))
			s.hub.RemoveConnection(s.context(), n.ConnectionID)
			return
		}
	}
	slog.Debug(fmt.Sprintf("%s - Scheduled listener cleanup for %s", logPrefix, n.ConnectionID))
}

// subscribableEvents returns the distinct events named by the resolution table.
func (s *Server) subscribableEvents() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range s.resolver.Entries() {
		if e.IsSubscription() && !seen[e.Event] {
			seen[e.Event] = true
			out = append(out, e.Event)
		}
	}
	return out
}

func (s *Server) respond(msg *comms.Msg, v interface{}) {
	if err := commsutil.RespondJSON(msg, v); err != nil {
		slog.Error(fmt.Sprintf("%s - %v", logPrefix, err))
	}
}

func (s *Server) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}

// --- wiring ---

// buildPermissions selects the permission checker for cfg.PermissionsMode.
// Static grants from GATEWAY_PERMISSIONS are consulted after the primary checker in jwt and db modes.
func buildPermissions(cfg *config.Config, pool *pgxpool.Pool) (dispatcher.PermissionChecker, error) {
	grants, err := permissions.ParseGrants(cfg.Permissions)
	if err != nil {
		return nil, fmt.Errorf("%s - GATEWAY_PERMISSIONS: %w", logPrefix, err)
	}
	static := permissions.NewStatic(grants)

	switch cfg.PermissionsMode {
	case config.PermissionsStatic:
		return static, nil
	case config.PermissionsJWT:
		return withStatic(permissions.NewJWT(cfg.JWTSecret), static, grants), nil
	case config.PermissionsDB:
		if pool == nil {
			return nil, fmt.Errorf("%s - permissions mode db needs a database", logPrefix)
		}
		store := permissions.NewStore(db.NewPermissionRepository(pool))
		return withStatic(store, static, grants), nil
	case config.PermissionsOpen:
		slog.Warn(fmt.Sprintf("%s - Permissions mode open: every permission group is granted", logPrefix))
		return permissions.AllowAll{}, nil
	default:
		return nil, fmt.Errorf("%s - unknown permissions mode %q", logPrefix, cfg.PermissionsMode)
	}
}

func withStatic(primary, static dispatcher.PermissionChecker, grants map[string][]string) dispatcher.PermissionChecker {
	if len(grants) == 0 {
		return primary
	}
	return permissions.Chain{primary, static}
}

// loadCatalog reads the service catalog; a missing file yields an empty catalog.
func loadCatalog(path string) (*services.Catalog, error) {
	if path == "" {
		return services.NewCatalog(), nil
	}
	catalog, err := services.LoadCatalog(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn(fmt.Sprintf("%s - Service catalog %s not found; no services are reachable", logPrefix, path))
		return services.NewCatalog(), nil
	}
	return catalog, err
}

// Run starts the server, blocks until a shutdown signal, then cleans up.
// SIGHUP reloads the resolution files without restarting.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	if err := cfg.ValidateForServe(); err != nil {
		return err
	}
	slog.Info(fmt.Sprintf("%s - Starting app-gateway", logPrefix))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Step 1: Connect to COMMS
	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
	}
	defer nc.Close()

	// Step 2: Connect to the database when grants live there
	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, nil)
		if err != nil {
			return fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
		}
		defer pool.Close()

		if cfg.RunMigrations {
			migrationSQL, err := db.LoadMigrationFiles(cfg.MigrationPath)
			if err != nil {
				return fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
			}
			if err := db.RunMigrations(ctx, pool, migrationSQL); err != nil {
				return fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
			}
		}
	}

	// Step 3: Permissions and services
	checker, err := buildPermissions(cfg, pool)
	if err != nil {
		return err
	}
	catalog, err := loadCatalog(cfg.ServiceCatalog)
	if err != nil {
		return fmt.Errorf("%s - failed to load service catalog: %w", logPrefix, err)
	}
	provider := services.NewCommsProvider(services.NewCommsProviderParams{
		Conn:    nc,
		Catalog: catalog,
		Timeout: cfg.RequestTimeout,
	})

	// Step 4: Gateway core
	s, err := New(Params{
		Config:      cfg,
		Conn:        nc,
		Pool:        pool,
		Provider:    provider,
		Permissions: checker,
	})
	if err != nil {
		return err
	}
	if err := s.Start(ctx); err != nil {
		return err
	}

	// Step 5: HTTP admin server
	addr := cfg.ListenAddr()
	s.httpServer = &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP admin server listening on %s", logPrefix, addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	slog.Info(fmt.Sprintf("%s - App-gateway is ready", logPrefix))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			s.Reload()
			continue
		}
		slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))
		break
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.TaskTimeout+5*time.Second)
	defer shutdownCancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn(fmt.Sprintf("%s - HTTP shutdown: %v", logPrefix, err))
	}
	if err := s.Shutdown(shutdownCtx); err != nil {
		slog.Warn(fmt.Sprintf("%s - %v", logPrefix, err))
	}
	if err := nc.Drain(); err != nil {
		slog.Warn(fmt.Sprintf("%s - COMMS drain: %v", logPrefix, err))
	}

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}
