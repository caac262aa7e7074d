// Package web exposes the per-address report over HTTP.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Baptiste-Yucca/gainorloss/internal/reconcile"
	"github.com/Baptiste-Yucca/gainorloss/internal/tracker"
)

// reportProvider is the engine surface the server needs.
type reportProvider interface {
	Track(ctx context.Context, address common.Address) (*tracker.Report, error)
}

// Server serves the report API.
type Server struct {
	addr     string
	provider reportProvider
	logger   *zap.Logger
	timeout  time.Duration
}

// NewServer creates a report server listening on addr.
func NewServer(addr string, provider reportProvider, logger *zap.Logger) *Server {
	return &Server{addr: addr, provider: provider, logger: logger, timeout: 2 * time.Minute}
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/api/v1/report/{address}", s.handleReport)

	server := &http.Server{
		Addr:              s.addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("report server listening", zap.String("addr", s.addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "report server")
	}
	return nil
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "address")
	if !common.IsHexAddress(raw) {
		s.writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	address := common.HexToAddress(raw)

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	report, err := s.provider.Track(ctx, address)
	if err != nil {
		var total *reconcile.TotalFailureError
		if errors.As(err, &total) {
			s.writeError(w, http.StatusServiceUnavailable, "data temporarily unavailable, try again later")
			return
		}
		s.logger.Error("report computation failed",
			zap.String("address", address.Hex()), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(report); err != nil {
		s.logger.Error("failed to encode report", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
