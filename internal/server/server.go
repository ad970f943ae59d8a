package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/ycommand/internal/env"
	"github.com/luma/ycommand/internal/meta"
	"github.com/luma/ycommand/storage"
	"github.com/luma/ycommand/transport"
)

const shutdownTimeout = 5 * time.Second

// Server runs a device: the TCP command endpoint and its HTTP status surface,
// sharing one subscription store.
type Server struct {
	conf *env.Config

	store  storage.Store
	tcp    *transport.TCP
	http   *http.Server
	httpLn net.Listener

	log *zap.Logger
}

func New(conf *env.Config, log *zap.Logger) *Server {
	store := storage.NewInmemoryStore()

	return &Server{
		conf:  conf,
		store: store,
		tcp:   transport.NewTCP(conf.TransportOptions(store, log.Named("transport"))),
		log:   log,
	}
}

func (s *Server) Start(ctx context.Context) error {
	fileLimit, err := setFileLimit()
	if err != nil {
		s.log.Warn("Failed to raise file limit", zap.Error(err))
	} else {
		s.log.Info("Set file limit", zap.Uint64("fileLimit", fileLimit))
	}

	httpLn, err := net.Listen("tcp", net.JoinHostPort(s.conf.Host, strconv.Itoa(s.conf.HTTPPort)))
	if err != nil {
		return err
	}

	s.httpLn = httpLn
	s.http = &http.Server{
		Handler: transport.NewRouter(s.store, s.log.Named("http"), s.conf.DebugHTTP),
	}

	// Initializing the server in a goroutine so that
	// it won't block the graceful shutdown handling in Close
	go func() {
		if err := s.http.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Http server errored", zap.Error(err))
		}
	}()

	if err := s.tcp.Start(ctx); err != nil {
		return multierr.Append(err, s.http.Close())
	}

	addr, err := s.tcp.Addr()
	if err != nil {
		return multierr.Append(err, s.Close())
	}

	s.log.Info("Listening",
		zap.Stringer("version", meta.GetInfo()),
		zap.Stringer("addr", addr),
		zap.Stringer("httpAddr", httpLn.Addr()))

	return nil
}

// Addr is the address of the TCP command endpoint.
func (s *Server) Addr() (net.Addr, error) {
	return s.tcp.Addr()
}

// HTTPAddr is the address of the HTTP status surface, nil before Start.
func (s *Server) HTTPAddr() net.Addr {
	if s.httpLn == nil {
		return nil
	}

	return s.httpLn.Addr()
}

func (s *Server) Store() storage.Store {
	return s.store
}

// Close gives in flight HTTP requests shutdownTimeout to finish, then stops
// the TCP endpoint and the store.
func (s *Server) Close() (err error) {
	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		s.http.SetKeepAlivesEnabled(false)

		if herr := s.http.Shutdown(ctx); herr != nil {
			s.log.Error("Http server forced to shutdown", zap.Error(herr))
			err = multierr.Append(err, herr)
		}
	}

	if terr := s.tcp.Close(); terr != nil {
		s.log.Error("TCP server forced to shutdown", zap.Error(terr))
		err = multierr.Append(err, terr)
	}

	return multierr.Append(err, s.store.Close())
}

// Run starts the server and blocks until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	s.log.Info("Shutting down gracefully")

	err := s.Close()
	s.log.Info("Exiting")

	return err
}

func setFileLimit() (uint64, error) {
	var rLimit syscall.Rlimit

	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	rLimit.Cur = rLimit.Max
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	return rLimit.Cur, nil
}
