// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package gamestore

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/mobiletoly/go-overbox/internal/auth"
	"github.com/mobiletoly/go-overbox/remote"
)

const maxBodyBytes = 1 << 20

// Handlers serves the collection endpoints
type Handlers struct {
	repo        Repository
	collections map[string]CollectionRule
	logger      *slog.Logger
}

// NewHandlers creates collection handlers. A nil collections map uses DefaultCollections.
func NewHandlers(repo Repository, collections map[string]CollectionRule, logger *slog.Logger) *Handlers {
	if collections == nil {
		collections = DefaultCollections()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{repo: repo, collections: collections, logger: logger}
}

// HandleList returns every record of a collection in creation order
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	owner, collection, _, ok := h.target(w, r)
	if !ok {
		return
	}
	items, err := h.repo.List(r.Context(), owner, collection)
	if err != nil {
		h.logger.Error("Failed to list records", "error", err, "collection", collection)
		h.writeError(w, http.StatusInternalServerError, "internal", "failed to list records")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, remote.ListResponse{Items: items})
}

// HandleCreate stores a new record and returns its id
func (h *Handlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	owner, collection, rule, ok := h.target(w, r)
	if !ok {
		return
	}
	rec, ok := h.decodeRecord(w, r)
	if !ok {
		return
	}
	if err := validateCreate(rule, rec); err != nil {
		h.writeError(w, http.StatusBadRequest, remote.CodeValidation, err.Error())
		return
	}

	id, err := h.repo.Create(r.Context(), owner, collection, rec)
	if err != nil {
		h.logger.Error("Failed to create record", "error", err, "collection", collection)
		h.writeError(w, http.StatusInternalServerError, "internal", "failed to create record")
		return
	}
	h.logger.Debug("Record created", "collection", collection, "id", id)
	writeJSON(w, h.logger, http.StatusCreated, remote.CreateResponse{ID: id})
}

// HandleUpdate shallow-merges the request body into a record
func (h *Handlers) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	owner, collection, rule, ok := h.target(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	patch, ok := h.decodeRecord(w, r)
	if !ok {
		return
	}
	if err := validatePatch(rule, patch); err != nil {
		h.writeError(w, http.StatusBadRequest, remote.CodeValidation, err.Error())
		return
	}

	if err := h.repo.Update(r.Context(), owner, collection, id, patch); err != nil {
		h.repoError(w, err, "update", collection, id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDelete removes a record
func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	owner, collection, _, ok := h.target(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if err := h.repo.Delete(r.Context(), owner, collection, id); err != nil {
		h.repoError(w, err, "delete", collection, id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleHealth reports that the server is up
func HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status": "healthy", "service": "gamestore"}`))
}

// target resolves the authenticated owner and the requested collection
func (h *Handlers) target(w http.ResponseWriter, r *http.Request) (owner, collection string, rule CollectionRule, ok bool) {
	owner, ok = auth.GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, remote.CodeUnauthorized, "authentication required")
		return "", "", CollectionRule{}, false
	}
	collection = r.PathValue("collection")
	rule, known := h.collections[collection]
	if !known {
		h.writeError(w, http.StatusBadRequest, remote.CodeValidation, "unknown collection "+collection)
		return "", "", CollectionRule{}, false
	}
	return owner, collection, rule, true
}

func (h *Handlers) decodeRecord(w http.ResponseWriter, r *http.Request) (remote.Record, bool) {
	var rec remote.Record
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&rec); err != nil || rec == nil {
		h.writeError(w, http.StatusBadRequest, remote.CodeValidation, "request body must be a JSON object")
		return nil, false
	}
	return rec, true
}

func (h *Handlers) repoError(w http.ResponseWriter, err error, op, collection, id string) {
	if errors.Is(err, ErrNotFound) {
		h.writeError(w, http.StatusNotFound, remote.CodeNotFound, "record not found")
		return
	}
	h.logger.Error("Repository failure", "op", op, "error", err, "collection", collection, "id", id)
	h.writeError(w, http.StatusInternalServerError, "internal", "failed to "+op+" record")
}

func (h *Handlers) writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	writeError(w, h.logger, statusCode, errorCode, message)
}

// writeError writes a standardized error response
func writeError(w http.ResponseWriter, logger *slog.Logger, statusCode int, errorCode, message string) {
	writeJSON(w, logger, statusCode, remote.ErrorResponse{Error: errorCode, Message: message})
	logger.Debug("HTTP error response",
		"status_code", statusCode,
		"error_code", errorCode,
		"message", message)
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}
