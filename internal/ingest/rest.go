package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"dcwatch/internal/config"
	"dcwatch/internal/model"
	"dcwatch/internal/telemetry"
)

type RESTServer struct {
	cfg    *config.Manager
	out    chan<- model.MetricSample
	logger *slog.Logger
}

// StartREST exposes POST /samples for direct metric injection, accepting a
// single sample object or an array of them.
func StartREST(ctx context.Context, cfg *config.Manager, out chan<- model.MetricSample, logger *slog.Logger) *http.Server {
	current := cfg.Get().Ingest.REST
	if !current.Enabled {
		if logger != nil {
			logger.Info("rest ingest disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("rest ingest enabled", "addr", current.Addr)
	}
	server := &RESTServer{cfg: cfg, out: out, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("/samples", server.handleSamples)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("rest ingest server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *RESTServer) handleSamples(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 2<<20))
	if err != nil || len(body) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	defaultTTL := s.cfg.Get().Ingest.DefaultTTL
	accepted := 0
	failed := 0

	trim := bytes.TrimSpace(body)
	if len(trim) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if trim[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(trim, &raw); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		for _, doc := range raw {
			if s.process(doc, defaultTTL) {
				accepted++
			} else {
				failed++
			}
		}
	} else {
		if s.process(trim, defaultTTL) {
			accepted++
		} else {
			failed++
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{
		"accepted": accepted,
		"failed":   failed,
	})
}

func (s *RESTServer) process(doc []byte, defaultTTL uint64) bool {
	sample, err := DecodeSample(doc, defaultTTL)
	if err != nil {
		telemetry.SamplesRejected.WithLabelValues("decode").Inc()
		if s.logger != nil {
			s.logger.Warn("rest sample decode error", "err", err)
		}
		return false
	}
	if !SendNonBlocking(context.Background(), s.out, sample, s.logger) {
		telemetry.SamplesRejected.WithLabelValues("backpressure").Inc()
		return false
	}
	telemetry.SamplesIngested.WithLabelValues("rest").Inc()
	return true
}
