package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"

	configpkg "github.com/openelr/relay/internal/runtime/config"
	loggingpkg "github.com/openelr/relay/internal/runtime/logging"
	transportpkg "github.com/openelr/relay/internal/runtime/transport"
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// OutboxStore persists outgoing messages so undelivered reports survive a
// process crash between handling and publishing.
type OutboxStore interface {
	StoreOutgoingMessage(ctx context.Context, eventType, uuid, payload string) error
}

// ServiceDependencies carries the optional collaborators of a Service.
// Nil fields disable the related feature.
type ServiceDependencies struct {
	Outbox                    OutboxStore
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
	TransportFactory          transportpkg.Factory
	ErrorClassifier           ErrorClassifier
}

// Service is the messaging backbone of the relay pipeline: a Watermill
// router with its publisher, subscriber, middleware chain and the HTTP
// surfaces (dashboard, metrics) that observe it.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	publisher  message.Publisher
	subscriber message.Subscriber
	router     *message.Router

	outbox OutboxStore

	handlers   []*HandlerInfo
	handlersMu sync.RWMutex

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex
	httpCtx       context.Context
	httpCancel    context.CancelFunc

	errorClassifier ErrorClassifier
	resourceTracker *resourceTracker
}

// NewService builds a Service against the configured broker. Register
// handlers on the result before calling Start. A broker or router that
// cannot be constructed is a startup failure, so it panics.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) *Service {
	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating event service",
		loggingpkg.LogFields{
			"pubsub_system": conf.PubSubSystem,
			"config":        conf,
		})

	s := &Service{
		Conf:            conf,
		Logger:          log,
		outbox:          deps.Outbox,
		errorClassifier: deps.ErrorClassifier,
		resourceTracker: newResourceTracker(),
	}
	if s.errorClassifier == nil {
		s.errorClassifier = defaultErrorClassifier
	}

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	transport, err := factory.Build(ctx, conf, wmLogger)
	if err != nil {
		panic(err)
	}
	s.publisher = transport.Publisher
	s.subscriber = transport.Subscriber

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		panic(err)
	}
	s.router = router
	s.router.AddPlugin(plugin.SignalsHandler)

	s.registerConfiguredMiddlewares(deps)

	return s
}

// Publisher exposes the transport publisher for callers that route messages
// to queues outside their handler's publish queue.
func (s *Service) Publisher() message.Publisher {
	return s.publisher
}

// Start launches the dashboard and HTTP servers, then runs the router until
// the context is cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.httpCtx, s.httpCancel = context.WithCancel(ctx)
	s.StartWebUIServer()
	s.startHTTPServers()
	return routerRun(s.router, ctx)
}

// Stop shuts down the HTTP servers started by Start. The router itself
// stops when the Start context is cancelled.
func (s *Service) Stop() {
	if s.httpCancel != nil {
		s.httpCancel()
	}
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) {
	var registrations []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		registrations = DefaultMiddlewares()
	}
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			panic(fmt.Sprintf("failed to register middleware %s: %v", name, err))
		}
	}
}

func (s *Service) getErrorClassifier() ErrorClassifier {
	if s.errorClassifier == nil {
		return defaultErrorClassifier
	}
	return s.errorClassifier
}

func (s *Service) getResourceTracker() *resourceTracker {
	if s.resourceTracker == nil {
		s.resourceTracker = newResourceTracker()
	}
	return s.resourceTracker
}

// RegisterHTTPHandler mounts a handler on the mux for the given port. All
// handlers registered for one port share a server, started by Start.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		addr := fmt.Sprintf(":%d", port)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": addr})
		srv := &http.Server{Addr: addr, Handler: mux}
		go func(srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}(srv)
		if s.httpCtx != nil {
			go func(srv *http.Server) {
				<-s.httpCtx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}(srv)
		}
	}
}
