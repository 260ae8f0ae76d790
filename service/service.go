// Package service runs the HTTP status server next to the acceptor.
package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/log"

	"github.com/aura-net/mcast-acceptor/metrics"
)

const (
	DefaultStatusHost = "0.0.0.0"
	DefaultStatusPort = 8080
)

type Service struct {
	Status *StatusServer

	addr string
	log  log.Logger
}

func New(host string, port int, status StatusProvider, history HistoryProvider, logger log.Logger) *Service {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	return &Service{
		Status: NewStatusServer(addr, status, history, logger),
		addr:   addr,
		log:    logger,
	}
}

func (s *Service) Addr() string {
	return s.addr
}

// Start serves in the background. Requests inherit ctx, so in-flight history
// queries are cancelled with it.
func (s *Service) Start(ctx context.Context) {
	s.log.Info("service starting")

	s.Status.server.BaseContext = func(net.Listener) context.Context { return ctx }
	go func() {
		s.log.Info("starting status server", "addr", s.addr)
		if err := s.Status.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("error starting status server", "err", err)
			metrics.RecordErrorDetails("status_server", err)
		}
	}()

	s.log.Info("service started")
}

func (s *Service) Shutdown(ctx context.Context) {
	s.log.Info("service shutting down")

	if err := s.Status.Shutdown(ctx); err != nil {
		s.log.Warn("status server did not stop cleanly", "err", err)
	}

	s.log.Info("service stopped")
}
