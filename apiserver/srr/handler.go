// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package srr exposes the srr operations over HTTP.
package srr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/juju/errors"

	srrerrors "github.com/juju/srr/core/srr/errors"
)

// StatusHeader carries the overall status of save and restore responses.
const StatusHeader = "Srr-Status"

// maxRequestSize bounds the size of request bodies.
const maxRequestSize = 64 << 20

// Processor runs an operation on the frames of a request.
type Processor interface {
	Process(ctx context.Context, operation string, data []string) ([]string, error)
}

// Logger represents the logging methods called.
type Logger interface {
	Errorf(message string, args ...any)
	Warningf(message string, args ...any)
	Debugf(message string, args ...any)
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewHandler returns the handler serving list on GET /srr/list, and the
// other operations on POST /srr/<operation>. A restore is forced past the
// data integrity check with the force=true query parameter.
func NewHandler(processor Processor, logger Logger) http.Handler {
	h := &handler{processor: processor, logger: logger}
	router := mux.NewRouter()
	router.HandleFunc("/srr/list", h.serveList).Methods(http.MethodGet)
	router.HandleFunc("/srr/{operation}", h.serveOperation).Methods(http.MethodPost)
	return router
}

type handler struct {
	processor Processor
	logger    Logger
}

func (h *handler) serveList(w http.ResponseWriter, req *http.Request) {
	h.process(w, req, "list", nil)
}

func (h *handler) serveOperation(w http.ResponseWriter, req *http.Request) {
	operation := mux.Vars(req)["operation"]
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxRequestSize))
	if err != nil {
		h.sendError(w, req, fmt.Errorf("reading request body: %v: %w", err, errors.NotValid))
		return
	}
	data := []string{string(body)}
	if req.URL.Query().Get("force") == "true" {
		data = append(data, "force")
	}
	h.process(w, req, operation, data)
}

func (h *handler) process(w http.ResponseWriter, req *http.Request, operation string, data []string) {
	h.logger.Debugf("%s %s", req.Method, req.URL)
	frames, err := h.processor.Process(req.Context(), operation, data)
	if err != nil {
		h.sendError(w, req, err)
		return
	}
	if len(frames) == 0 {
		h.sendError(w, req, errors.Errorf("%s returned no response", operation))
		return
	}
	if len(frames) > 1 {
		w.Header().Set(StatusHeader, frames[0])
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, frames[len(frames)-1]); err != nil {
		h.logger.Warningf("writing response to %s %s: %v", req.Method, req.URL, err)
	}
}

func (h *handler) sendError(w http.ResponseWriter, req *http.Request, err error) {
	status := statusCode(err)
	if status == http.StatusInternalServerError {
		h.logger.Errorf("returning error from %s %s: %s", req.Method, req.URL, errors.Details(err))
	} else {
		h.logger.Debugf("returning error from %s %s: %v", req.Method, req.URL, err)
	}
	body, merr := json.Marshal(errorResponse{Error: err.Error()})
	if merr != nil {
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, srrerrors.UnknownOperation):
		return http.StatusNotFound
	case errors.Is(err, errors.NotValid):
		return http.StatusBadRequest
	case errors.Is(err, srrerrors.NotImplemented):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}
