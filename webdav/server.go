package webdav

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/webdav"

	"github.com/sandkit/vfs"
	"github.com/sandkit/vfs/log"
)

// Config holds the WebDAV server configuration.
type Config struct {
	// Host to bind (default "127.0.0.1").
	Host string

	// Port to listen on (default 8080).
	Port int

	// Prefix strips a leading URL path before resolution (optional).
	Prefix string

	// ReadOnly rejects mutating WebDAV methods with 403 before the
	// filesystem is consulted.
	ReadOnly bool
}

// Server exposes one FileSystem over WebDAV.
type Server struct {
	cfg     Config
	logger  *log.Logger
	handler http.Handler
	httpSrv *http.Server
}

// mutatingMethods are the WebDAV methods a read-only server refuses.
var mutatingMethods = map[string]struct{}{
	http.MethodPut:    {},
	http.MethodDelete: {},
	"MKCOL":           {},
	"MOVE":            {},
	"COPY":            {},
	"PROPPATCH":       {},
	"LOCK":            {},
	"UNLOCK":          {},
}

func NewServer(fs *vfs.FileSystem, cfg Config, logger *log.Logger) *Server {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if logger == nil {
		logger = log.Discard()
	}

	s := &Server{
		cfg:    cfg,
		logger: logger.Named("webdav"),
	}

	dav := &webdav.Handler{
		Prefix:     cfg.Prefix,
		FileSystem: &davFS{fs: fs},
		LockSystem: webdav.NewMemLS(),
		Logger: func(r *http.Request, err error) {
			if err != nil {
				s.logger.Debug("%s %s failed: %v", r.Method, r.URL.Path, err)
			}
		},
	}
	s.handler = s.guard(dav)
	return s
}

// Handler returns the HTTP handler, for embedding in an existing mux.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.ReadOnly {
			if _, mutates := mutatingMethods[r.Method]; mutates {
				http.Error(w, "read-only filesystem", http.StatusForbidden)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
}

// Serve runs the server in the foreground until the listener fails or
// Stop is called.
func (s *Server) Serve() error {
	s.httpSrv = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("Serving WebDAV on %s", s.Addr())
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Start runs the server in the background and returns once the listener
// is bound.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return err
	}

	s.httpSrv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("Serving WebDAV on %s", listener.Addr())
	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("WebDAV server stopped: %v", err)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	s.logger.Info("Stopping WebDAV server")
	return s.httpSrv.Shutdown(ctx)
}
