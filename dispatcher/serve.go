// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package dispatcher

import (
	"context"
	"sync"

	"github.com/juju/errors"
	"github.com/juju/pubsub/v2"
)

// Handler handles a request received on a queue and returns the frames of
// the reply. A returned error is sent back in the reply Error field.
type Handler func(ctx context.Context, msg Message) ([]string, error)

// Serve subscribes handler to the requests published on queue, replying as
// agent. Each request is handled on its own goroutine. The returned stop
// function unsubscribes and waits for requests in flight.
func Serve(hub *pubsub.StructuredHub, queue, agent string, handler Handler, logger Logger) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())
	var (
		mu      sync.Mutex
		stopped bool
		wg      sync.WaitGroup
	)
	unsubscribe, err := hub.Subscribe(queue, func(_ string, msg Message, err error) {
		if err != nil {
			logger.Warningf("dropping undecodable request on %q: %v", queue, err)
			return
		}
		if msg.ReplyTo == "" {
			logger.Warningf("dropping %q request %q without reply topic", msg.Subject, msg.CorrelationID)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply := msg.Reply(agent)
			data, err := handler(ctx, msg)
			if err != nil {
				reply.Error = err.Error()
			} else {
				reply.Data = data
			}
			if _, err := hub.Publish(msg.ReplyTo, reply); err != nil {
				logger.Errorf("replying to %q: %v", msg.ReplyTo, err)
			}
		}()
	})
	if err != nil {
		cancel()
		return nil, errors.Annotatef(err, "subscribing to %q", queue)
	}
	return func() {
		unsubscribe()
		mu.Lock()
		stopped = true
		mu.Unlock()
		cancel()
		wg.Wait()
	}, nil
}
