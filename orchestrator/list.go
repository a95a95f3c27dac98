// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package orchestrator

import (
	"context"

	"github.com/juju/srr/rpc/params"
)

// List describes the groups that can be saved and restored, and the
// passphrase format save expects.
func (o *Orchestrator) List(ctx context.Context) params.ListResponse {
	resp := params.ListResponse{
		Version:               o.version,
		PassphraseDescription: o.passphrase.Description(),
		PassphraseValidation:  o.passphrase.Pattern(),
		Groups:                []params.GroupInfo{},
	}
	for _, g := range o.catalog.Groups() {
		info := params.GroupInfo{
			GroupID:     g.ID,
			GroupName:   g.Name,
			Description: g.Description,
			Features:    make([]params.FeatureInfo, 0, len(g.Features)),
		}
		for _, fp := range g.Features {
			f, err := o.catalog.Feature(fp.Feature)
			if err != nil {
				// Catalog groups only reference known features.
				continue
			}
			info.Features = append(info.Features, params.FeatureInfo{
				Name:        f.ID,
				Description: f.Description,
			})
		}
		resp.Groups = append(resp.Groups, info)
	}
	o.metrics.operation("list", "SUCCESS")
	return resp
}
