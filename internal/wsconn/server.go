package wsconn

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"go.uber.org/zap"

	"github.com/sparkles-gui/sparkles-backend/internal/config"
	"github.com/sparkles-gui/sparkles-backend/internal/discovery"
	"github.com/sparkles-gui/sparkles-backend/internal/metrics"
	"github.com/sparkles-gui/sparkles-backend/internal/registry"
)

// Server is the single HTTP listener that serves the static UI, /health,
// /metrics, and upgrades /ws into a Session — one port for everything, per
// the CLI contract's single bind address.
type Server struct {
	cfg      config.ServerConfig
	log      *zap.Logger
	reg      *registry.Registry
	mgr      *registry.Manager
	disc     *discovery.Discovery
	met      *metrics.Registry
	sampler  *metrics.SystemSampler
	http     *http.Server
	wg       sync.WaitGroup

	// ctx is the server's own lifetime context, used for spawned Sessions.
	// The per-request r.Context() is unusable here: net/http cancels it the
	// moment a hijacking handler returns, which is immediately after we
	// spawn the session's goroutine.
	ctx context.Context
}

func NewServer(cfg config.ServerConfig, log *zap.Logger, reg *registry.Registry, mgr *registry.Manager, disc *discovery.Discovery, met *metrics.Registry, sampler *metrics.SystemSampler) *Server {
	s := &Server{cfg: cfg, log: log, reg: reg, mgr: mgr, disc: disc, met: met, sampler: sampler}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	if met != nil {
		mux.Handle("/metrics", met.Handler())
	}
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.Handle("/", s.staticHandler())

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Addr is the address the server binds once Start succeeds.
func (s *Server) Addr() string { return s.http.Addr }

// Start begins serving in a background goroutine and returns immediately,
// without waiting for the listener to bind; a bind or serve error is
// reported on ready (or logged if ready is full), matching the teacher's
// fire-and-report pattern.
func (s *Server) Start(ctx context.Context, ready chan<- error) {
	s.ctx = ctx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info("http server listening", zap.String("addr", s.http.Addr))
		err := s.http.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			select {
			case ready <- err:
			default:
				s.log.Error("http server exited", zap.Error(err))
			}
		}
	}()
}

// Shutdown gracefully drains the HTTP server, waiting up to timeout.
func (s *Server) Shutdown(timeout time.Duration) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("http server shutdown error", zap.Error(err))
	}
	s.wg.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := metrics.Health{Status: "ok"}
	if s.sampler != nil {
		health = s.sampler.Health()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(health); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// staticHandler serves frontend/dist, falling back to index.html for any
// path that isn't an existing file — the SPA routing contract.
func (s *Server) staticHandler() http.Handler {
	dir := s.cfg.StaticDir
	fileServer := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := filepath.Join(dir, filepath.Clean(r.URL.Path))
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

// handleUpgrade hijacks the HTTP connection, performs the raw WebSocket
// handshake, and hands the resulting net.Conn off to a new Session — the
// same gobwas/ws upgrade the teacher uses on a raw net.Listener, adapted to
// run on top of net/http via Hijacker so /ws can share a port with the
// static file server.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "websocket upgrade unsupported", http.StatusInternalServerError)
		return
	}
	conn, rw, err := hijacker.Hijack()
	if err != nil {
		s.log.Warn("hijack failed", zap.Error(err))
		return
	}
	if err := rw.Flush(); err != nil {
		conn.Close()
		return
	}
	if _, err := ws.Upgrade(conn); err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		conn.Close()
		return
	}

	id := s.reg.NextWsID()
	sess := NewSession(id, conn, s.reg, s.mgr, s.disc, s.log, s.met)
	go sess.Run(s.ctx)
}
