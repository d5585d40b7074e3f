package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dcwatch/internal/alerts"
	"dcwatch/internal/config"
	"dcwatch/internal/engine"
	"dcwatch/internal/model"
)

type Server struct {
	cfg     *config.Manager
	eng     *engine.Engine
	alerts  *alerts.Store
	logger  *slog.Logger
	reload  func() error
	version string
}

type statusResponse struct {
	Status       string `json:"status"`
	Time         string `json:"time"`
	Version      string `json:"version"`
	ConfigPath   string `json:"config_path"`
	RulesLoaded  int    `json:"rules_loaded"`
	CacheEntries int    `json:"cache_entries"`
}

// Start exposes the inspection and admin surface: /status, /rules,
// /alerts, /cache, /metrics (Prometheus), /rules/reload.
func Start(ctx context.Context, cfg *config.Manager, eng *engine.Engine, alertsStore *alerts.Store, reload func() error, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := &Server{
		cfg:     cfg,
		eng:     eng,
		alerts:  alertsStore,
		logger:  logger,
		reload:  reload,
		version: version,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", server.handleStatus)
	mux.HandleFunc("/rules", server.handleRules)
	mux.HandleFunc("/rules/reload", server.handleReload)
	mux.HandleFunc("/alerts", server.handleAlerts)
	mux.HandleFunc("/cache", server.handleCache)
	mux.HandleFunc("/admin/clear", server.handleClear)
	mux.Handle("/metrics", promhttp.Handler())

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
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp := statusResponse{
		Status:       "ok",
		Time:         time.Now().UTC().Format(time.RFC3339Nano),
		Version:      s.version,
		ConfigPath:   s.cfg.Path(),
		RulesLoaded:  len(s.eng.Rules()),
		CacheEntries: s.eng.Cache().Len(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rules := s.eng.Rules()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": rules,
		"count": len(rules),
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.reload == nil {
		w.WriteHeader(http.StatusNotImplemented)
		return
	}
	if err := s.reload(); err != nil {
		if s.logger != nil {
			s.logger.Error("rule reload failed", "err", err)
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"rules":  len(s.eng.Rules()),
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var list []model.Transition
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		since, err := strconv.ParseUint(sinceStr, 10, 64)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.alerts.Since(since)
	} else {
		list = s.alerts.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	samples := s.eng.Cache().Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"samples": samples,
		"count":   len(samples),
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.alerts != nil {
		s.alerts.Clear()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
