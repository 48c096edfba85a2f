package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Ning0612/addonsync/internal/backup"
	"github.com/Ning0612/addonsync/internal/domain"
	"github.com/Ning0612/addonsync/internal/logger"
	"github.com/Ning0612/addonsync/internal/scanner"
)

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	statuses, err := a.config.Syncer.Check(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"artifacts": statuses})
}

func (a *API) handleFetchArtifact(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		respondError(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}

	// The download outlives a dropped client connection.
	res, err := a.config.Syncer.Fetch(context.WithoutCancel(r.Context()), name)
	switch {
	case errors.Is(err, domain.ErrArtifactNotFound):
		respondError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrNoPathSet):
		respondError(w, http.StatusConflict, err)
	case err != nil:
		respondJSON(w, http.StatusBadGateway, res)
	default:
		respondJSON(w, http.StatusOK, res)
	}
}

func (a *API) handleListBackups(w http.ResponseWriter, _ *http.Request) {
	root, err := a.config.Resolver.BackupsRoot()
	if err != nil {
		respondError(w, http.StatusConflict, err)
		return
	}
	records, err := backup.List(root)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"backups": records})
}

var outcomeStatus = map[backup.Outcome]int{
	backup.OutcomeCompleted:    http.StatusOK,
	backup.OutcomeNotDue:       http.StatusOK,
	backup.OutcomeDisabled:     http.StatusOK,
	backup.OutcomeBusy:         http.StatusConflict,
	backup.OutcomeDisconnected: http.StatusServiceUnavailable,
	backup.OutcomeFailed:       http.StatusInternalServerError,
}

func (a *API) handleStartBackup(w http.ResponseWriter, r *http.Request) {
	force := false
	if raw := r.URL.Query().Get("force"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, errors.New("force must be a boolean"))
			return
		}
		force = v
	}

	outcome := a.config.Backups.Initiate(context.WithoutCancel(r.Context()), force)
	code, ok := outcomeStatus[outcome]
	if !ok {
		code = http.StatusInternalServerError
	}
	respondJSON(w, code, map[string]any{"outcome": outcome})
}

func (a *API) handleBackupsSize(w http.ResponseWriter, r *http.Request) {
	root, err := a.config.Resolver.BackupsRoot()
	if err != nil {
		respondJSON(w, http.StatusOK, scanner.Result{State: scanner.StateError, Error: err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, a.config.Backups.Scanner().Scan(r.Context(), root))
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{}
	if a.config.Status != nil {
		body["daemon"] = a.config.Status(r.Context())
	}
	if a.config.Events != nil {
		body["events"] = a.config.Events.Snapshot()
	}
	respondJSON(w, http.StatusOK, body)
}

func respondJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Get().Debug("failed to write response", "error", err)
	}
}

func respondError(w http.ResponseWriter, code int, err error) {
	respondJSON(w, code, map[string]string{"error": err.Error()})
}
