// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package centralhub builds the in-process message bus that carries
// requests between the orchestrator, its user interfaces and the agents.
package centralhub

import (
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/pubsub/v2"
	"gopkg.in/yaml.v3"
)

// New returns a new structured hub. Every message published on it carries
// the origin, so subscribers can tell which process sent it.
func New(origin string) *pubsub.StructuredHub {
	return pubsub.NewStructuredHub(
		&pubsub.StructuredHubConfig{
			Logger:     loggo.GetLogger("srr.centralhub"),
			Marshaller: &yamlMarshaller{},
			Annotations: map[string]interface{}{
				"origin": origin,
			},
		})
}

type yamlMarshaller struct{}

// Marshal implements pubsub.Marshaller.
func (*yamlMarshaller) Marshal(v interface{}) ([]byte, error) {
	b, err := yaml.Marshal(v)
	return b, errors.Trace(err)
}

// Unmarshal implements pubsub.Marshaller.
func (*yamlMarshaller) Unmarshal(data []byte, v interface{}) error {
	return errors.Trace(yaml.Unmarshal(data, v))
}
