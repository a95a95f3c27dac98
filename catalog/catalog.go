// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package catalog holds the static registry of features and groups: which
// agent owns each feature, on which queue that agent listens, and in which
// order the features of a group are saved and restored.
//
// A Catalog is built once at start up and never modified afterwards, so it
// can be shared by concurrent requests without locking.
package catalog

import (
	_ "embed"
	"fmt"
	"math"
	"sort"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"gopkg.in/yaml.v3"

	"github.com/juju/srr/core/srr"
	srrerrors "github.com/juju/srr/core/srr/errors"
)

//go:embed catalog.yaml
var defaultDefinition []byte

// Definition is the serialised form of a catalog.
type Definition struct {
	// Agents maps an agent name to the queue it listens on.
	Agents   map[string]string   `yaml:"agents"`
	Features []FeatureDefinition `yaml:"features"`
	Groups   []GroupDefinition   `yaml:"groups"`
}

// FeatureDefinition describes a single feature.
type FeatureDefinition struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
	Agent       string `yaml:"agent"`
	Reset       bool   `yaml:"reset"`
	Restart     bool   `yaml:"restart"`
}

// GroupDefinition describes a group and the priority of its features.
type GroupDefinition struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Features    []FeaturePriority `yaml:"features"`
}

// FeaturePriority is a feature of a group and its position in the group;
// lower priorities are processed first.
type FeaturePriority struct {
	Feature  string `yaml:"feature"`
	Priority int    `yaml:"priority"`
}

// Destination identifies where requests for a feature are sent.
type Destination struct {
	Agent string
	Queue string
}

// Feature is an atomic, independently restorable unit of configuration.
type Feature struct {
	ID          string
	Description string
	Destination Destination

	// SupportsReset is true when the owning agent can reset the feature
	// to its factory state before a restore.
	SupportsReset bool

	// RestartRequired is true when successfully restoring the feature
	// requires the appliance to be restarted.
	RestartRequired bool
}

// Group is an ordered collection of features saved, verified and restored
// as one unit.
type Group struct {
	ID          string
	Name        string
	Description string

	// Features is sorted ascending by priority.
	Features []FeaturePriority
}

// FeatureIDs returns the ids of the group features in priority order.
func (g Group) FeatureIDs() []string {
	ids := make([]string, len(g.Features))
	for i, fp := range g.Features {
		ids[i] = fp.Feature
	}
	return ids
}

// Catalog is the immutable feature and group registry.
type Catalog struct {
	features     map[string]Feature
	groups       map[string]Group
	featureGroup map[string]string
	priorities   map[string]int
}

// ParseDefinition decodes a YAML catalog definition.
func ParseDefinition(data []byte) (Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, errors.Annotate(err, "parsing catalog definition")
	}
	return def, nil
}

// Default returns the catalog embedded in the binary.
func Default() (*Catalog, error) {
	def, err := ParseDefinition(defaultDefinition)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return BuildCatalog(def)
}

// BuildCatalog validates the definition and returns the catalog it
// describes. Every feature must be owned by a known agent, every group
// feature must be defined, and a feature may belong to at most one group.
func BuildCatalog(def Definition) (*Catalog, error) {
	c := &Catalog{
		features:     make(map[string]Feature, len(def.Features)),
		groups:       make(map[string]Group, len(def.Groups)),
		featureGroup: make(map[string]string),
		priorities:   make(map[string]int),
	}

	for _, fd := range def.Features {
		if fd.ID == "" {
			return nil, errors.NotValidf("feature with empty id")
		}
		if _, ok := c.features[fd.ID]; ok {
			return nil, errors.NotValidf("duplicate feature %q", fd.ID)
		}
		queue, ok := def.Agents[fd.Agent]
		if !ok || queue == "" {
			return nil, errors.NotValidf("feature %q owned by unknown agent %q", fd.ID, fd.Agent)
		}
		c.features[fd.ID] = Feature{
			ID:              fd.ID,
			Description:     fd.Description,
			Destination:     Destination{Agent: fd.Agent, Queue: queue},
			SupportsReset:   fd.Reset,
			RestartRequired: fd.Restart,
		}
	}

	for _, gd := range def.Groups {
		if gd.ID == "" {
			return nil, errors.NotValidf("group with empty id")
		}
		if _, ok := c.groups[gd.ID]; ok {
			return nil, errors.NotValidf("duplicate group %q", gd.ID)
		}
		seen := set.NewStrings()
		for _, fp := range gd.Features {
			if _, ok := c.features[fp.Feature]; !ok {
				return nil, errors.NotValidf("group %q references unknown feature %q", gd.ID, fp.Feature)
			}
			if other, ok := c.featureGroup[fp.Feature]; ok {
				return nil, errors.NotValidf("feature %q in groups %q and %q", fp.Feature, other, gd.ID)
			}
			if seen.Contains(fp.Feature) {
				return nil, errors.NotValidf("feature %q listed twice in group %q", fp.Feature, gd.ID)
			}
			seen.Add(fp.Feature)
			c.featureGroup[fp.Feature] = gd.ID
			c.priorities[fp.Feature] = fp.Priority
		}

		ordered := make([]FeaturePriority, len(gd.Features))
		copy(ordered, gd.Features)
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].Priority < ordered[j].Priority
		})

		name := gd.Name
		if name == "" {
			name = gd.ID
		}
		c.groups[gd.ID] = Group{
			ID:          gd.ID,
			Name:        name,
			Description: gd.Description,
			Features:    ordered,
		}
	}
	return c, nil
}

// AgentFor returns the destination of requests for the feature.
func (c *Catalog) AgentFor(feature string) (Destination, error) {
	f, err := c.Feature(feature)
	if err != nil {
		return Destination{}, err
	}
	return f.Destination, nil
}

// Feature returns the named feature.
func (c *Catalog) Feature(name string) (Feature, error) {
	f, ok := c.features[name]
	if !ok {
		return Feature{}, fmt.Errorf("feature %q: %w", name, srrerrors.UnknownFeature)
	}
	return f, nil
}

// GroupFor returns the group the feature belongs to. The boolean is false
// when the feature is not part of any group, in which case it cannot be
// saved or restored as part of a group.
func (c *Catalog) GroupFor(feature string) (string, bool) {
	g, ok := c.featureGroup[feature]
	return g, ok
}

// OrderedFeatures returns the features of the group sorted ascending by
// priority.
func (c *Catalog) OrderedFeatures(group string) ([]FeaturePriority, error) {
	g, err := c.Group(group)
	if err != nil {
		return nil, err
	}
	return g.Features, nil
}

// Group returns the group with the given id.
func (c *Catalog) Group(id string) (Group, error) {
	g, ok := c.groups[id]
	if !ok {
		return Group{}, fmt.Errorf("group %q: %w", id, srrerrors.UnknownGroup)
	}
	// Hand out a copy so callers cannot reorder the catalog.
	features := make([]FeaturePriority, len(g.Features))
	copy(features, g.Features)
	g.Features = features
	return g, nil
}

// Groups returns every group, sorted by id.
func (c *Catalog) Groups() []Group {
	ids := make([]string, 0, len(c.groups))
	for id := range c.groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	groups := make([]Group, len(ids))
	for i, id := range ids {
		groups[i], _ = c.Group(id)
	}
	return groups
}

// Features returns every feature, sorted by id.
func (c *Catalog) Features() []Feature {
	features := make([]Feature, 0, len(c.features))
	for _, f := range c.features {
		features = append(features, f)
	}
	sort.Slice(features, func(i, j int) bool {
		return features[i].ID < features[j].ID
	})
	return features
}

// Priority returns the priority of the feature within its group. Features
// outside any group have the lowest possible priority.
func (c *Catalog) Priority(feature string) int {
	p, ok := c.priorities[feature]
	if !ok {
		return math.MaxInt
	}
	return p
}

// SortByPriority sorts the features ascending by catalog priority, keeping
// the input order for equal priorities.
func (c *Catalog) SortByPriority(features []srr.NamedFeature) {
	sort.SliceStable(features, func(i, j int) bool {
		return c.Priority(features[i].Name) < c.Priority(features[j].Name)
	})
}
