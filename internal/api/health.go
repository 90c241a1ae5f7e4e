package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/snarg/klaxon/internal/database"
	"github.com/snarg/klaxon/internal/mqttclient"
)

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
}

// Check probes one dependency. Critical failures flip the service to
// unhealthy (503); the rest only degrade it.
type Check struct {
	Name     string
	Critical bool
	Probe    func(ctx context.Context) error
}

type HealthHandler struct {
	version   string
	startTime time.Time
	checks    []Check
}

func NewHealthHandler(version string, startTime time.Time, checks ...Check) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: startTime,
		checks:    checks,
	}
}

// AddCheck registers another probe. Not safe once the handler is serving.
func (h *HealthHandler) AddCheck(c Check) {
	h.checks = append(h.checks, c)
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	for _, c := range h.checks {
		if err := c.Probe(r.Context()); err != nil {
			checks[c.Name] = err.Error()
			if c.Critical {
				status = "unhealthy"
				httpStatus = http.StatusServiceUnavailable
			} else if status == "healthy" {
				status = "degraded"
			}
			continue
		}
		checks[c.Name] = "ok"
	}

	resp := HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(resp)
}

// DatabaseCheck probes the connection pool.
func DatabaseCheck(db *database.DB) Check {
	return Check{Name: "database", Critical: true, Probe: db.HealthCheck}
}

// MQTTCheck reports a lost broker connection as degraded; the paho client
// reconnects on its own.
func MQTTCheck(client *mqttclient.Client) Check {
	return Check{Name: "mqtt", Probe: func(context.Context) error {
		if !client.IsConnected() {
			return errors.New("disconnected")
		}
		return nil
	}}
}
