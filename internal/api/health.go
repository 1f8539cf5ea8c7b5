package api

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const (
	statusUp       = "up"
	statusDegraded = "degraded"
	statusDown     = "down"
)

type healthResponse struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Uptime    float64        `json:"uptime"`
	Version   string         `json:"version"`
	Services  healthServices `json:"services"`
}

type healthServices struct {
	Database    serviceHealth `json:"database"`
	ExternalAPI serviceHealth `json:"externalApi"`
	CronJobs    serviceHealth `json:"cronJobs"`
}

type serviceHealth struct {
	Status       string `json:"status"`
	ResponseTime int64  `json:"responseTime,omitempty"`
	LastCheck    string `json:"lastCheck"`
	Message      string `json:"message,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	services := healthServices{
		Database:    s.databaseHealth(r.Context(), now),
		ExternalAPI: s.upstreamHealth(now),
		CronJobs:    s.cronHealth(now),
	}

	overall := "healthy"
	for _, st := range []string{services.Database.Status, services.ExternalAPI.Status, services.CronJobs.Status} {
		if st == statusDown {
			overall = "unhealthy"
			break
		}
		if st == statusDegraded {
			overall = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:    overall,
		Timestamp: now.Format(time.RFC3339),
		Uptime:    time.Since(s.started).Seconds(),
		Version:   s.version,
		Services:  services,
	})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"alive": true})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := s.db.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "message": "database not ready: " + err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func (s *Server) databaseHealth(ctx context.Context, now time.Time) serviceHealth {
	h := serviceHealth{LastCheck: now.Format(time.RFC3339)}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	start := time.Now()
	if err := s.db.Ping(ctx); err != nil {
		h.Status = statusDown
		h.Message = err.Error()
		return h
	}
	h.ResponseTime = time.Since(start).Milliseconds()
	h.Status = statusUp
	if h.ResponseTime > 1000 {
		h.Status = statusDegraded
		h.Message = "Slow response"
	}
	return h
}

// upstreamHealth reads the provider breaker instead of probing the provider.
func (s *Server) upstreamHealth(now time.Time) serviceHealth {
	h := serviceHealth{LastCheck: now.Format(time.RFC3339), Status: statusUp}
	switch cb := s.ingestion.Status().CircuitBreaker; cb.State {
	case "OPEN":
		h.Status = statusDown
		h.Message = fmt.Sprintf("circuit %s open after %d failures", cb.Name, cb.FailureCount)
	case "HALF_OPEN":
		h.Status = statusDegraded
		h.Message = fmt.Sprintf("circuit %s probing recovery", cb.Name)
	}
	return h
}

func (s *Server) cronHealth(now time.Time) serviceHealth {
	h := serviceHealth{LastCheck: now.Format(time.RFC3339), Status: statusUp}
	st := s.ingestion.Status()
	if st.LastSuccess == nil {
		h.Status = statusDegraded
		h.Message = "no successful ingestion since start"
		return h
	}
	hours := now.Sub(*st.LastSuccess).Hours()
	switch {
	case hours > 30:
		h.Status = statusDown
		h.Message = fmt.Sprintf("No updates for %.0f hours", hours)
	case hours > 25:
		h.Status = statusDegraded
		h.Message = fmt.Sprintf("%.0fh since last update", hours)
	}
	return h
}
