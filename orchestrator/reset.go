// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package orchestrator

import (
	"context"
	"fmt"

	srrerrors "github.com/juju/srr/core/srr/errors"
	"github.com/juju/srr/rpc/params"
)

// Reset is part of the interface offered to users but resetting groups to
// factory state is not supported.
func (o *Orchestrator) Reset(ctx context.Context, req params.ResetRequest) (params.ResetResponse, error) {
	o.metrics.operation("reset", "FAILED")
	return params.ResetResponse{}, fmt.Errorf("reset: %w", srrerrors.NotImplemented)
}
