// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/pubsub/v2"
)

// Logger represents the logging methods called.
type Logger interface {
	Errorf(message string, args ...any)
	Warningf(message string, args ...any)
	Infof(message string, args ...any)
	Debugf(message string, args ...any)
}

// Transport sends a request to the agent listening on a queue and waits
// for its reply.
type Transport interface {
	// Request publishes msg on queue and returns the reply. It fails with
	// a Timeout error if no reply arrives within timeout.
	Request(ctx context.Context, queue string, msg Message, timeout time.Duration) (Message, error)
}

// HubTransport is a Transport over an in-process structured hub.
type HubTransport struct {
	hub    *pubsub.StructuredHub
	origin string
	clock  clock.Clock
	logger Logger
}

// NewHubTransport returns a transport publishing requests on hub on behalf
// of origin.
func NewHubTransport(hub *pubsub.StructuredHub, origin string, clk clock.Clock, logger Logger) *HubTransport {
	return &HubTransport{
		hub:    hub,
		origin: origin,
		clock:  clk,
		logger: logger,
	}
}

// Request implements Transport. Each request gets its own reply topic,
// which is only subscribed for the duration of the call.
func (t *HubTransport) Request(ctx context.Context, queue string, msg Message, timeout time.Duration) (Message, error) {
	if msg.CorrelationID == "" {
		msg.CorrelationID = uuid.NewString()
	}
	msg.Origin = t.origin
	msg.To = queue
	msg.ReplyTo = fmt.Sprintf("%s.reply.%s", t.origin, msg.CorrelationID)

	replies := make(chan Message, 1)
	unsubscribe, err := t.hub.Subscribe(msg.ReplyTo, func(_ string, reply Message, err error) {
		if err != nil {
			t.logger.Warningf("dropping undecodable reply on %q: %v", msg.ReplyTo, err)
			return
		}
		if reply.CorrelationID != msg.CorrelationID {
			t.logger.Debugf("dropping reply with unexpected correlation id %q", reply.CorrelationID)
			return
		}
		select {
		case replies <- reply:
		default:
		}
	})
	if err != nil {
		return Message{}, errors.Annotatef(err, "subscribing to %q", msg.ReplyTo)
	}
	defer unsubscribe()

	// Start the clock before publishing so a fast reply cannot race it.
	timer := t.clock.NewTimer(timeout)
	defer timer.Stop()

	if _, err := t.hub.Publish(queue, msg); err != nil {
		return Message{}, errors.Annotatef(err, "publishing to %q", queue)
	}

	select {
	case reply := <-replies:
		return reply, nil
	case <-timer.Chan():
		return Message{}, errors.Timeoutf("waiting %s for reply from %q", timeout, queue)
	case <-ctx.Done():
		return Message{}, errors.Trace(ctx.Err())
	}
}
