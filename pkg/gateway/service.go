package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"switchboard/pkg/channel"
	"switchboard/pkg/config"
)

const (
	defaultHost = "0.0.0.0"
	defaultPort = 8000

	serviceName         = "INASC Conversational Agent"
	healthCheckInterval = 30 * time.Second
	shutdownTimeout     = 5 * time.Second
)

// HealthChecker reports whether the model provider is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Pinger reports whether storage is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// QueueDepth reports inbound queue occupancy.
type QueueDepth interface {
	Pending() int
	Unfinished() int64
}

// Dispatcher drains the inbound queue.
type Dispatcher interface {
	Run(ctx context.Context) error
	Wait()
}

// Deps are the collaborators the gateway wires together.
type Deps struct {
	Provider   HealthChecker
	Store      Pinger
	Queue      QueueDepth
	Dispatcher Dispatcher
	Adapters   []channel.Adapter
	Routes     []channel.Route
	// Background runs alongside the service until ctx is done.
	Background []func(ctx context.Context)
}

type Service struct {
	cfg  *config.Config
	log  *slog.Logger
	deps Deps

	handler  http.Handler
	listener net.Listener

	mu               sync.RWMutex
	startedAt        time.Time
	providerLastOKAt time.Time
	providerLastErr  string
	storeLastErr     string
	channelStates    map[string]channelState
}

type channelState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status           string                  `json:"status"`
	UptimeSeconds    int64                   `json:"uptime_seconds"`
	ProviderLastOKAt string                  `json:"provider_last_ok_at,omitempty"`
	ProviderLastErr  string                  `json:"provider_last_error,omitempty"`
	StorageErr       string                  `json:"storage_error,omitempty"`
	QueuePending     int                     `json:"queue_pending"`
	QueueUnfinished  int64                   `json:"queue_unfinished"`
	Channels         map[string]channelState `json:"channels"`
}

type bannerResponse struct {
	Status      string `json:"status"`
	Service     string `json:"service"`
	Environment string `json:"environment"`
}

func NewService(cfg *config.Config, deps Deps, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if deps.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if deps.Queue == nil {
		return nil, errors.New("queue is required")
	}
	if len(deps.Adapters) == 0 && len(deps.Routes) == 0 {
		return nil, errors.New("at least one channel is required")
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Service{
		cfg:           cfg,
		log:           log.With("component", "gateway.service"),
		deps:          deps,
		channelStates: make(map[string]channelState, len(deps.Adapters)+len(deps.Routes)),
	}
	for _, adapter := range deps.Adapters {
		s.channelStates[adapter.Name()] = channelState{}
	}
	for _, route := range deps.Routes {
		s.channelStates[route.Name] = channelState{}
	}
	s.handler = s.routes()

	return s, nil
}

// Handler exposes the gateway mux.
func (s *Service) Handler() http.Handler {
	return s.handler
}

// Addr reports the bound address once Run is listening.
func (s *Service) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Service) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleBanner)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	for _, route := range s.deps.Routes {
		mux.Handle(route.Pattern, route.Handler)
	}
	return mux
}

// Run serves HTTP ingress, runs polling adapters and the dispatcher, and
// returns when ctx is done or a component fails. In-flight workers are not
// awaited.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	if err := s.checkProviderHealth(ctx); err != nil {
		s.log.Warn("Provider not healthy at startup", "error", err)
	}
	if err := s.checkStoreHealth(ctx); err != nil {
		s.log.Warn("Storage not healthy at startup", "error", err)
	}

	listener, err := net.Listen("tcp", s.address())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	s.mu.Lock()
	for _, route := range s.deps.Routes {
		s.channelStates[route.Name] = channelState{Running: true}
	}
	s.listener = listener
	s.mu.Unlock()

	serverErrors := make(chan error, 1)
	go s.serve(ctx, listener, serverErrors)

	go s.healthLoop(ctx)
	for _, background := range s.deps.Background {
		go background(ctx)
	}

	errCh := make(chan error, len(s.deps.Adapters)+1)
	go func() {
		if err := s.deps.Dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("run dispatcher: %w", err)
		}
	}()

	for _, adapter := range s.deps.Adapters {
		s.setChannelState(adapter.Name(), channelState{Running: true})

		go func() {
			err := adapter.Run(ctx)
			s.setChannelState(adapter.Name(), channelState{Running: false, Error: errorString(err)})
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("run %s channel: %w", adapter.Name(), err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		s.log.Info("Gateway stopping", "in_flight", s.deps.Queue.Unfinished())
		return nil
	case err := <-serverErrors:
		return err
	case err := <-errCh:
		return err
	}
}

// Drain waits up to timeout for in-flight workers and reports whether they all
// finished.
func (s *Service) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.deps.Dispatcher.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		s.log.Warn("Workers still running at shutdown", "in_flight", s.deps.Queue.Unfinished())
		return false
	}
}

func (s *Service) address() string {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = defaultHost
	}

	port := s.cfg.Gateway.Port
	if port < 0 {
		port = defaultPort
	}

	return net.JoinHostPort(host, strconv.Itoa(port))
}

func (s *Service) serve(ctx context.Context, listener net.Listener, errCh chan<- error) {
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway listening", "address", listener.Addr().String())
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("serve http: %w", err)
	}
}

func (s *Service) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.checkProviderHealth(ctx)
			_ = s.checkStoreHealth(ctx)
		}
	}
}

func (s *Service) handleBanner(w http.ResponseWriter, _ *http.Request) {
	environment := s.cfg.Environment
	if environment == "" {
		environment = "unknown"
	}

	if err := channel.WriteJSON(w, http.StatusOK, bannerResponse{
		Status:      "online",
		Service:     serviceName,
		Environment: environment,
	}); err != nil {
		s.log.Error("Failed to write banner", "error", err)
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	if err := channel.WriteJSON(w, statusCode, s.currentStatus(status)); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	channels := make(map[string]channelState, len(s.channelStates))
	for name, state := range s.channelStates {
		channels[name] = state
	}

	providerLastOK := ""
	if !s.providerLastOKAt.IsZero() {
		providerLastOK = s.providerLastOKAt.Format(time.RFC3339)
	}

	resp := statusResponse{
		Status:           status,
		UptimeSeconds:    uptime,
		ProviderLastOKAt: providerLastOK,
		ProviderLastErr:  s.providerLastErr,
		StorageErr:       s.storeLastErr,
		Channels:         channels,
	}
	if s.deps.Queue != nil {
		resp.QueuePending = s.deps.Queue.Pending()
		resp.QueueUnfinished = s.deps.Queue.Unfinished()
	}
	return resp
}

func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	anyRunning := false
	for _, state := range s.channelStates {
		if state.Running {
			anyRunning = true
			break
		}
	}
	if !anyRunning {
		return false
	}

	if s.deps.Provider != nil && (s.providerLastOKAt.IsZero() || s.providerLastErr != "") {
		return false
	}

	return s.storeLastErr == ""
}

func (s *Service) checkProviderHealth(ctx context.Context) error {
	if s.deps.Provider == nil {
		return nil
	}

	if err := s.deps.Provider.Health(ctx); err != nil {
		s.mu.Lock()
		s.providerLastErr = err.Error()
		s.mu.Unlock()
		return fmt.Errorf("provider health check failed: %w", err)
	}

	s.mu.Lock()
	s.providerLastErr = ""
	s.providerLastOKAt = time.Now().UTC()
	s.mu.Unlock()

	return nil
}

func (s *Service) checkStoreHealth(ctx context.Context) error {
	if s.deps.Store == nil {
		return nil
	}

	err := s.deps.Store.Ping(ctx)

	s.mu.Lock()
	s.storeLastErr = errorString(err)
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("storage health check failed: %w", err)
	}
	return nil
}

func (s *Service) setChannelState(name string, state channelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelStates[name] = state
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
