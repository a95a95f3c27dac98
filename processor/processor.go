// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package processor turns the frames of an inbound request into a call on
// the matching orchestrator operation, and its result back into frames.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/juju/errors"

	srrerrors "github.com/juju/srr/core/srr/errors"
	"github.com/juju/srr/rpc/params"
)

// Operation is one of the operations offered to users.
type Operation int

const (
	List Operation = iota
	Save
	Restore
	Reset
)

var operationNames = map[Operation]string{
	List:    "list",
	Save:    "save",
	Restore: "restore",
	Reset:   "reset",
}

// String returns the name the operation is requested with.
func (o Operation) String() string {
	if name, ok := operationNames[o]; ok {
		return name
	}
	return fmt.Sprintf("operation(%d)", int(o))
}

// ParseOperation returns the operation with the given name, which is
// matched case insensitively.
func ParseOperation(name string) (Operation, error) {
	lower := strings.ToLower(name)
	for op, opName := range operationNames {
		if opName == lower {
			return op, nil
		}
	}
	return 0, fmt.Errorf("operation %q: %w", name, srrerrors.UnknownOperation)
}

// Handlers holds the implementation of every operation.
type Handlers struct {
	List    func(context.Context) params.ListResponse
	Save    func(context.Context, params.SaveRequest) params.SaveResponse
	Restore func(context.Context, params.RestoreRequest, bool) params.RestoreResponse
	Reset   func(context.Context, params.ResetRequest) (params.ResetResponse, error)
}

func (h Handlers) validate() error {
	handlers := []struct {
		op    Operation
		unset bool
	}{
		{List, h.List == nil},
		{Save, h.Save == nil},
		{Restore, h.Restore == nil},
		{Reset, h.Reset == nil},
	}
	for _, entry := range handlers {
		if entry.unset {
			return fmt.Errorf("%s: %w", entry.op, srrerrors.HandlerNotWired)
		}
	}
	return nil
}

// Processor routes requests to their handler.
type Processor struct {
	handlers Handlers
}

// New returns a Processor routing to the handlers, which must all be set.
func New(handlers Handlers) (*Processor, error) {
	if err := handlers.validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Processor{handlers: handlers}, nil
}

// Process runs the named operation. The first data frame holds the JSON
// request, if the operation takes one; a restore with more than one frame
// is forced past the data integrity check.
//
// List replies with the JSON response alone. Save and restore reply with
// the overall status followed by the JSON response.
func (p *Processor) Process(ctx context.Context, operation string, data []string) ([]string, error) {
	op, err := ParseOperation(operation)
	if err != nil {
		return nil, errors.Trace(err)
	}
	switch op {
	case List:
		return encode(p.handlers.List(ctx))
	case Save:
		var req params.SaveRequest
		if err := decode(op, data, &req); err != nil {
			return nil, errors.Trace(err)
		}
		resp := p.handlers.Save(ctx, req)
		return encodeWithStatus(resp.Status, resp)
	case Restore:
		var req params.RestoreRequest
		if err := decode(op, data, &req); err != nil {
			return nil, errors.Trace(err)
		}
		resp := p.handlers.Restore(ctx, req, len(data) > 1)
		return encodeWithStatus(resp.Status, resp)
	case Reset:
		var req params.ResetRequest
		if err := decode(op, data, &req); err != nil {
			return nil, errors.Trace(err)
		}
		resp, err := p.handlers.Reset(ctx, req)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return encodeWithStatus(resp.Status, resp)
	}
	return nil, fmt.Errorf("operation %q: %w", operation, srrerrors.UnknownOperation)
}

func decode(op Operation, data []string, v any) error {
	if len(data) == 0 {
		return errors.NotValidf("%s request without data", op)
	}
	if err := json.Unmarshal([]byte(data[0]), v); err != nil {
		return fmt.Errorf("decoding %s request: %v: %w", op, err, errors.NotValid)
	}
	return nil
}

func encode(v any) ([]string, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Annotate(err, "encoding response")
	}
	return []string{string(body)}, nil
}

func encodeWithStatus(status string, v any) ([]string, error) {
	frames, err := encode(v)
	if err != nil {
		return nil, err
	}
	return append([]string{status}, frames...), nil
}
