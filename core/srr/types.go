// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package srr

import "strings"

const (
	// Version1 is the flat protocol: restore payloads are a list of
	// features without integrity data.
	Version1 = "1.0"

	// Version2 is the grouped protocol: restore payloads are a list of
	// groups, each carrying its own data integrity digest.
	Version2 = "2.0"

	// Version21 is wire compatible with Version2.
	Version21 = "2.1"
)

// IsGrouped reports whether restore payloads of the given protocol
// version are organised in groups.
func IsGrouped(version string) bool {
	return strings.HasPrefix(version, "2.")
}

// FeatureData is the opaque configuration blob of a feature, as produced
// and consumed by the agent owning it.
type FeatureData struct {
	Version string
	Data    string
}

// FeatureStatus is the result reported by an agent for one feature.
type FeatureStatus struct {
	Status Status
	Error  string
}

// FeatureAndStatus pairs a feature payload with the status of the
// operation that produced it.
type FeatureAndStatus struct {
	Feature FeatureData
	Status  FeatureStatus
}

// NamedFeature is one element of an ordered feature payload list.
type NamedFeature struct {
	Name string
	FeatureAndStatus
}

// SaveBundle is the result of saving one group.
type SaveBundle struct {
	GroupID       string
	GroupName     string
	DataIntegrity string
	Features      []NamedFeature
}

// FeatureNames returns the names of the features in the bundle, in order.
func (b SaveBundle) FeatureNames() []string {
	names := make([]string, len(b.Features))
	for i, f := range b.Features {
		names[i] = f.Name
	}
	return names
}

// UnitStatus is the restore result for one group (grouped protocol) or one
// feature (flat protocol).
type UnitStatus struct {
	Name   string
	Status Status
	Error  string
}
