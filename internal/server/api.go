package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/afroash/envdash/internal/dashboard"
	"github.com/afroash/envdash/internal/eventloop"
	"github.com/afroash/envdash/internal/models"
	"github.com/afroash/envdash/internal/panel"
	"github.com/afroash/envdash/internal/prefs"
)

// actionTimeout bounds how long a handler waits for the event loop
const actionTimeout = 5 * time.Second

// APIHandler handles the dashboard's JSON API
type APIHandler struct {
	dash    Dashboard
	events  EventLog
	metrics *Metrics
	logger  zerolog.Logger
}

// NewAPIHandler creates a new API handler. events and metrics may be nil.
func NewAPIHandler(dash Dashboard, events EventLog, metrics *Metrics, logger zerolog.Logger) *APIHandler {
	return &APIHandler{
		dash:    dash,
		events:  events,
		metrics: metrics,
		logger:  logger,
	}
}

// ThemeResponse is the body of the theme endpoints
type ThemeResponse struct {
	Theme prefs.Theme `json:"theme"`
}

// HandleState returns the full view snapshot
func (api *APIHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.dash.Snapshot())
}

// HandleDevices returns the device rows
func (api *APIHandler) HandleDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.dash.Snapshot().Devices)
}

// HandleRefresh triggers an immediate sensor fetch
func (api *APIHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	api.dispatch(w, r, models.CommandMessage{Action: models.ActionRefresh})
}

// HandleCheckAll starts a sequential device sweep
func (api *APIHandler) HandleCheckAll(w http.ResponseWriter, r *http.Request) {
	api.dispatch(w, r, models.CommandMessage{Action: models.ActionCheckAll})
}

// HandleCheck probes one device
func (api *APIHandler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	api.dispatch(w, r, models.CommandMessage{Action: models.ActionCheck, DeviceID: mux.Vars(r)["id"]})
}

// HandleWake sends a Wake-on-LAN request for one device
func (api *APIHandler) HandleWake(w http.ResponseWriter, r *http.Request) {
	api.dispatch(w, r, models.CommandMessage{Action: models.ActionWake, DeviceID: mux.Vars(r)["id"]})
}

func (api *APIHandler) dispatch(w http.ResponseWriter, r *http.Request, cmd models.CommandMessage) {
	ctx, cancel := context.WithTimeout(r.Context(), actionTimeout)
	defer cancel()

	err := api.dash.Dispatch(ctx, cmd)
	api.metrics.CommandHandled(cmd.Action, err)
	if err != nil {
		api.logger.Debug().Err(err).Str("action", cmd.Action).Str("device", cmd.DeviceID).Msg("Command rejected")
		writeError(w, err)
		return
	}
	// results arrive asynchronously through the snapshot
	writeJSON(w, http.StatusAccepted, models.AckMessage{Action: cmd.Action, Status: "accepted"})
}

// HandleDeviceEvents returns recent probe and wake outcomes for a device
func (api *APIHandler) HandleDeviceEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !api.knownDevice(id) {
		writeError(w, panel.ErrUnknownDevice)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	events := []models.DeviceEvent{}
	if api.events != nil {
		var err error
		events, err = api.events.GetDeviceEvents(id, limit)
		if err != nil {
			api.logger.Error().Err(err).Str("device", id).Msg("Failed to load device events")
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, events)
}

func (api *APIHandler) knownDevice(id string) bool {
	for _, row := range api.dash.Snapshot().Devices {
		if row.ID == id {
			return true
		}
	}
	return false
}

// HandleGetTheme returns the current theme
func (api *APIHandler) HandleGetTheme(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ThemeResponse{Theme: api.dash.Theme()})
}

// HandleSetTheme sets the theme from a {"theme": "..."} body
func (api *APIHandler) HandleSetTheme(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Theme string `json:"theme"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorMessage{Code: "bad_request", Message: "invalid JSON body"})
		return
	}
	theme, err := prefs.ParseTheme(body.Theme)
	if err == nil {
		err = api.dash.SetTheme(r.Context(), theme)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ThemeResponse{Theme: api.dash.Theme()})
}

// HandleToggleTheme flips between dark and light
func (api *APIHandler) HandleToggleTheme(w http.ResponseWriter, r *http.Request) {
	theme, err := api.dash.ToggleTheme(r.Context())
	api.metrics.CommandHandled(models.ActionToggleTheme, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ThemeResponse{Theme: theme})
}

// errorStatus maps domain errors to an HTTP status and error code
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, panel.ErrUnknownDevice):
		return http.StatusNotFound, "unknown_device"
	case errors.Is(err, panel.ErrWakeBusy):
		return http.StatusConflict, "wake_busy"
	case errors.Is(err, prefs.ErrInvalidTheme):
		return http.StatusBadRequest, "invalid_theme"
	case errors.Is(err, dashboard.ErrUnknownAction):
		return http.StatusBadRequest, "unknown_action"
	case errors.Is(err, eventloop.ErrStopped):
		return http.StatusServiceUnavailable, "stopped"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	writeJSON(w, status, models.ErrorMessage{Code: code, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
