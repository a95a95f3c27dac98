// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package orchestrator

import (
	"context"

	"github.com/juju/srr/core/srr"
)

// rollback puts the features back in the state captured by the snapshot:
// features are reset in reverse order, then restored from the snapshot in
// order. Failures are logged and never rolled back themselves. It reports
// whether a feature requiring a restart was restored.
func (o *Orchestrator) rollback(ctx context.Context, snapshot []srr.NamedFeature, passphrase string) bool {
	names := make([]string, len(snapshot))
	for i, f := range snapshot {
		names[i] = f.Name
	}
	o.resetFeatures(ctx, names)

	restart := false
	for _, f := range snapshot {
		r, err := o.restoreFeature(ctx, f, passphrase)
		if err != nil {
			o.logger.Errorf("feature %q is unrecoverable, it may be in an undefined state: %v", f.Name, err)
			continue
		}
		o.logger.Infof("feature %q rolled back", f.Name)
		restart = restart || r
	}
	return restart
}
