package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/chatterlinx/frontdesk/internal/app"
	"github.com/chatterlinx/frontdesk/internal/store"
	"github.com/chatterlinx/frontdesk/pkg/types"
)

// maxBodyBytes bounds accepted request bodies.
const maxBodyBytes = 64 << 10

// queryRequest is the POST /v1/query body.
type queryRequest struct {
	TenantID  string           `json:"tenantId"`
	Utterance string           `json:"utterance"`
	Context   app.QueryContext `json:"context"`
}

// turnRequest is the POST /v1/turn body.
type turnRequest struct {
	TenantID  string        `json:"tenantId"`
	CallID    string        `json:"callId"`
	Utterance string        `json:"utterance"`
	Channel   types.Channel `json:"channel"`
}

// registerAPI mounts the engine endpoints on mux.
func registerAPI(mux *http.ServeMux, brain *app.Brain, logger *slog.Logger) {
	mux.HandleFunc("POST /v1/query", func(w http.ResponseWriter, r *http.Request) {
		var req queryRequest
		if !decodeBody(w, r, &req, logger) {
			return
		}
		res := brain.Query(r.Context(), req.TenantID, req.Utterance, req.Context)
		writeJSON(w, http.StatusOK, res, logger)
	})

	mux.HandleFunc("POST /v1/turn", func(w http.ResponseWriter, r *http.Request) {
		var req turnRequest
		if !decodeBody(w, r, &req, logger) {
			return
		}
		if req.TenantID == "" || req.CallID == "" {
			http.Error(w, "tenantId and callId are required", http.StatusBadRequest)
			return
		}
		if req.Channel == "" {
			req.Channel = types.ChannelVoice
		}
		res := brain.Turn(r.Context(), req.TenantID, req.CallID, req.Utterance, req.Channel)
		writeJSON(w, http.StatusOK, res, logger)
	})

	mux.HandleFunc("DELETE /v1/calls/{callID}", func(w http.ResponseWriter, r *http.Request) {
		brain.EndCall(r.PathValue("callID"))
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /v1/tenants/{tenantID}/reindex", func(w http.ResponseWriter, r *http.Request) {
		n, err := brain.ReindexScenarios(r.Context(), r.PathValue("tenantID"))
		if err != nil {
			switch {
			case errors.Is(err, app.ErrNoIndex):
				http.Error(w, "no embedding index configured", http.StatusServiceUnavailable)
			case errors.Is(err, store.ErrNotFound):
				http.Error(w, "unknown tenant", http.StatusNotFound)
			default:
				logger.Warn("api: reindex failed", "error", err)
				http.Error(w, "reindex failed", http.StatusInternalServerError)
			}
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"scenariosIndexed": n}, logger)
	})

	mux.HandleFunc("GET /v1/stt-profiles/{templateID}", func(w http.ResponseWriter, r *http.Request) {
		p, err := brain.STTProfile(r.Context(), r.PathValue("templateID"))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				http.Error(w, "unknown template", http.StatusNotFound)
				return
			}
			logger.Warn("api: stt profile lookup failed", "error", err)
			http.Error(w, "lookup failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, p, logger)
	})
}

// decodeBody parses a bounded JSON body, writing the error response itself
// on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, logger *slog.Logger) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		logger.Debug("api: bad request body", "path", r.URL.Path, "error", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// writeJSON encodes v with the right headers.
func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		logger.Warn("api: response encode failed", "error", err)
	}
}
