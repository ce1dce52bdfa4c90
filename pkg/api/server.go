// Package api exposes the node's read-only inspection surface: health,
// consensus status, the validator roster, and shard load.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/engine"
	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/netmetrics"
	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/types"
	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/validator"
	"github.com/Hamida-ai/BLEEP-V1/pkg/shard"
	"github.com/Hamida-ai/BLEEP-V1/pkg/utils"
)

// Config holds HTTP server settings
type Config struct {
	ListenAddr     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	MaxConcurrent  int
}

// LoadConfig reads API settings from the config manager
func LoadConfig(cm types.ConfigManager) Config {
	return Config{
		ListenAddr:     cm.GetString("API_LISTEN_ADDR", ":8080"),
		ReadTimeout:    cm.GetDuration("API_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:   cm.GetDuration("API_WRITE_TIMEOUT", 10*time.Second),
		RequestTimeout: cm.GetDuration("API_REQUEST_TIMEOUT", 5*time.Second),
		MaxConcurrent:  cm.GetInt("API_MAX_CONCURRENT", 64),
	}
}

// Dependencies holds everything the handlers read from
type Dependencies struct {
	Logger   *utils.Logger
	Engine   *engine.Engine
	Selector *netmetrics.Selector
	Registry *validator.Registry
	Shards   *shard.Manager
}

// Server serves the read-only API. It never mutates node state.
type Server struct {
	cfg  Config
	deps Dependencies
	log  *utils.Logger

	httpServer *http.Server
	sem        chan struct{}
	running    atomic.Bool
	startedAt  time.Time
}

// NewServer validates dependencies and builds the handler chain
func NewServer(cfg Config, deps Dependencies) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("api: logger is required")
	}
	if deps.Engine == nil || deps.Selector == nil || deps.Registry == nil || deps.Shards == nil {
		return nil, errors.New("api: engine, selector, registry, and shard manager are required")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 64
	}

	s := &Server{
		cfg:  cfg,
		deps: deps,
		log:  deps.Logger,
		sem:  make(chan struct{}, cfg.MaxConcurrent),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/consensus", s.handleConsensus)
	mux.HandleFunc("/v1/validators", s.handleValidators)
	mux.HandleFunc("/v1/shards", s.handleShards)

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.middleware(mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

// Start begins serving; returns once the listener goroutine is launched
func (s *Server) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("api: server already running")
	}
	s.startedAt = time.Now()
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("api server terminated", utils.ZapError(err))
		}
	}()
	s.log.Info("api server listening", utils.ZapString("addr", s.cfg.ListenAddr))
	return nil
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// middleware applies panic recovery, method filtering, a concurrency cap,
// and the per-request timeout.
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("api handler panic",
					utils.ZapString("path", r.URL.Path),
					utils.ZapString("panic", fmt.Sprintf("%v", rec)))
				http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			}
		}()

		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
			return
		}

		select {
		case s.sem <- struct{}{}:
			defer func() { <-s.sem }()
		default:
			http.Error(w, `{"error":"too many requests"}`, http.StatusTooManyRequests)
			return
		}

		ctx := r.Context()
		if s.cfg.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
			defer cancel()
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
