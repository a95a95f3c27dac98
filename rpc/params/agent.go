// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package params

// The types below are exchanged with the agents owning the features.

// FeatureData is the opaque payload of a feature.
type FeatureData struct {
	Version string `json:"version"`
	Data    string `json:"data"`
}

// FeatureStatus is the status an agent reports for one feature.
type FeatureStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// FeatureResult is a saved feature as reported by its agent.
type FeatureResult struct {
	Feature FeatureData   `json:"feature"`
	Status  FeatureStatus `json:"status"`
}

// SaveQuery asks an agent to save some of its features.
type SaveQuery struct {
	Version    string   `json:"version"`
	Passphrase string   `json:"passphrase"`
	Features   []string `json:"features"`
}

// SaveResult maps each requested feature to its saved payload.
type SaveResult struct {
	Features map[string]FeatureResult `json:"features"`
}

// RestoreQuery asks an agent to restore features from saved payloads.
type RestoreQuery struct {
	Version    string                 `json:"version"`
	Passphrase string                 `json:"passphrase"`
	Features   map[string]FeatureData `json:"features"`
}

// RestoreResult maps each restored feature to its status.
type RestoreResult struct {
	Statuses map[string]FeatureStatus `json:"statuses"`
}

// ResetQuery asks an agent to reset features to their factory state.
type ResetQuery struct {
	Version  string   `json:"version"`
	Features []string `json:"features"`
}

// ResetResult maps each reset feature to its status.
type ResetResult struct {
	Statuses map[string]FeatureStatus `json:"statuses"`
}
