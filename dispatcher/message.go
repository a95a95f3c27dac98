// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package dispatcher

const (
	// SubjectSave asks an agent to save features.
	SubjectSave = "save"

	// SubjectRestore asks an agent to restore features.
	SubjectRestore = "restore"

	// SubjectReset asks an agent to reset features to factory state.
	SubjectReset = "reset"
)

// Message is the envelope exchanged on the bus. Data holds the user
// frames; requests and replies built by this package carry a single JSON
// encoded frame.
type Message struct {
	Origin        string   `json:"origin" yaml:"origin"`
	To            string   `json:"to" yaml:"to"`
	Subject       string   `json:"subject" yaml:"subject"`
	CorrelationID string   `json:"correlation-id" yaml:"correlation-id"`
	ReplyTo       string   `json:"reply-to,omitempty" yaml:"reply-to,omitempty"`
	Data          []string `json:"data" yaml:"data"`

	// Error is set on replies when the request could not be handled.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Reply returns the reply envelope for the request, sent by origin and
// carrying the given frames.
func (m Message) Reply(origin string, data ...string) Message {
	return Message{
		Origin:        origin,
		To:            m.Origin,
		Subject:       m.Subject,
		CorrelationID: m.CorrelationID,
		Data:          data,
	}
}
