package server

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// RouterConfig holds the settings the HTTP surface needs
type RouterConfig struct {
	Version        string
	AllowedOrigins []string
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Sensor  string `json:"sensor"`
	Clients int    `json:"clients"`
}

// recoveryLogger adapts zerolog to the handlers.RecoveryHandlerLogger interface
type recoveryLogger struct {
	logger zerolog.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error().Interface("panic", v).Msg("Recovered from handler panic")
}

// NewRouter wires the page, the JSON API, the WebSocket endpoint, health and
// metrics. events and metrics may be nil.
func NewRouter(cfg RouterConfig, dash Dashboard, events EventLog, metrics *Metrics, logger zerolog.Logger) http.Handler {
	api := NewAPIHandler(dash, events, metrics, logger.With().Str("component", "api").Logger())
	ws := NewHandler(dash, metrics, logger.With().Str("component", "websocket").Logger(), cfg.AllowedOrigins...)

	r := mux.NewRouter()

	r.HandleFunc("/", servePage).Methods(http.MethodGet)
	r.Handle("/ws", ws).Methods(http.MethodGet)

	r.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			Sensor:  dash.Snapshot().Status.State.String(),
			Clients: len(ws.ActiveClients()),
		})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	s := r.PathPrefix("/api").Subrouter()
	s.HandleFunc("/state", api.HandleState).Methods(http.MethodGet)
	s.HandleFunc("/sensor/refresh", api.HandleRefresh).Methods(http.MethodPost)
	s.HandleFunc("/devices", api.HandleDevices).Methods(http.MethodGet)
	s.HandleFunc("/devices/check", api.HandleCheckAll).Methods(http.MethodPost)
	s.HandleFunc("/devices/{id}/check", api.HandleCheck).Methods(http.MethodPost)
	s.HandleFunc("/devices/{id}/wake", api.HandleWake).Methods(http.MethodPost)
	s.HandleFunc("/devices/{id}/events", api.HandleDeviceEvents).Methods(http.MethodGet)
	s.HandleFunc("/theme", api.HandleGetTheme).Methods(http.MethodGet)
	s.HandleFunc("/theme", api.HandleSetTheme).Methods(http.MethodPut)
	s.HandleFunc("/theme/toggle", api.HandleToggleTheme).Methods(http.MethodPost)

	var h http.Handler = r
	if len(cfg.AllowedOrigins) > 0 {
		h = handlers.CORS(
			handlers.AllowedOrigins(cfg.AllowedOrigins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut}),
			handlers.AllowedHeaders([]string{"Content-Type", "Cache-Control"}),
		)(h)
	}
	h = handlers.CombinedLoggingHandler(accessLog{logger.With().Str("component", "http").Logger()}, h)
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{logger}))(h)
	return h
}

// accessLog writes Combined Log Format lines through zerolog at debug level
type accessLog struct {
	logger zerolog.Logger
}

func (a accessLog) Write(p []byte) (int, error) {
	n := len(p)
	if n > 0 && p[n-1] == '\n' {
		p = p[:n-1]
	}
	a.logger.Debug().Msg(string(p))
	return n, nil
}
