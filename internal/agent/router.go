// Package agent serves the device HTTP API (/api, /ping, /wol) that the
// dashboard polls: sensor readings, LAN reachability and Wake-on-LAN.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/afroash/envdash/internal/models"
	"github.com/afroash/envdash/internal/sensor"
)

// ReadingSource provides the cached sensor reading
type ReadingSource interface {
	Latest() models.Reading
	Stats() sensor.Stats
}

// Reachability checks whether a LAN host answers
type Reachability interface {
	Reachable(ctx context.Context, ip string, port int) (bool, error)
}

// WakeSender sends Wake-on-LAN packets
type WakeSender interface {
	Wake(mac string) error
}

// InfoResponse is the body of GET /info
type InfoResponse struct {
	Sensor        *models.SensorInfo `json:"sensor"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Stats         sensor.Stats       `json:"stats"`
	Latest        models.Reading     `json:"latest"`
}

// Agent implements the device API handlers
type Agent struct {
	readings ReadingSource
	prober   Reachability
	waker    WakeSender
	info     *models.SensorInfo
	logger   zerolog.Logger

	probeTimeout time.Duration
}

// New creates an agent. probeTimeout bounds a single /ping request.
func New(readings ReadingSource, prober Reachability, waker WakeSender, info *models.SensorInfo, probeTimeout time.Duration, logger zerolog.Logger) *Agent {
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	return &Agent{
		readings:     readings,
		prober:       prober,
		waker:        waker,
		info:         info,
		logger:       logger,
		probeTimeout: probeTimeout,
	}
}

// Router returns the device API wrapped in CORS, access logging and panic
// recovery. An empty origin list allows any origin, as the firmware does.
func (a *Agent) Router(allowedOrigins []string) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api", a.HandleReading).Methods(http.MethodGet)
	r.HandleFunc("/ping", a.HandlePing).Methods(http.MethodGet)
	r.HandleFunc("/wol", a.HandleWake).Methods(http.MethodGet)
	r.HandleFunc("/info", a.HandleInfo).Methods(http.MethodGet)
	r.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	var h http.Handler = handlers.CORS(
		handlers.AllowedOrigins(allowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet}),
		handlers.AllowedHeaders([]string{"Cache-Control"}),
	)(r)
	h = handlers.CombinedLoggingHandler(logWriter{a.logger}, h)
	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(h)
}

// HandleReading serves the cached reading
func (a *Agent) HandleReading(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.readings.Latest())
}

// HandlePing checks ?ip= (and optional &port=) for reachability
func (a *Agent) HandlePing(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ip := q.Get("ip")
	if net.ParseIP(ip) == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "ip must be an IP address"})
		return
	}
	port := 0
	if v := q.Get("port"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p < 1 || p > 65535 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "port must be between 1 and 65535"})
			return
		}
		port = p
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.probeTimeout)
	defer cancel()

	online, err := a.prober.Reachable(ctx, ip, port)
	if err != nil {
		a.logger.Warn().Err(err).Str("ip", ip).Msg("Reachability check failed")
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	a.logger.Debug().Str("ip", ip).Int("port", port).Bool("online", online).Msg("Reachability checked")
	writeJSON(w, http.StatusOK, models.PingResult{Online: online})
}

// HandleWake sends a magic packet to ?mac=
func (a *Agent) HandleWake(w http.ResponseWriter, r *http.Request) {
	mac := r.URL.Query().Get("mac")
	if err := a.waker.Wake(mac); err != nil {
		status := http.StatusOK
		if errors.Is(err, ErrInvalidMAC) {
			status = http.StatusBadRequest
		}
		a.logger.Warn().Err(err).Str("mac", mac).Msg("Wake-on-LAN failed")
		writeJSON(w, status, models.WakeResult{Success: false, Message: err.Error()})
		return
	}
	a.logger.Info().Str("mac", mac).Msg("Wake-on-LAN packet sent")
	writeJSON(w, http.StatusOK, models.WakeResult{Success: true})
}

// HandleInfo describes the sensor and its read counters
func (a *Agent) HandleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, InfoResponse{
		Sensor:        a.info,
		UptimeSeconds: int64(a.info.Uptime().Seconds()),
		Stats:         a.readings.Stats(),
		Latest:        a.readings.Latest(),
	})
}

type logWriter struct {
	logger zerolog.Logger
}

func (l logWriter) Write(p []byte) (int, error) {
	n := len(p)
	if n > 0 && p[n-1] == '\n' {
		p = p[:n-1]
	}
	l.logger.Debug().Msg(string(p))
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
