// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloEvents Contributors

package subscription

import "context"

// Delivery is the `{events, [Event]}` outbound message of spec.md §4.6. The
// elements are whatever Options.Mapper produced; a subscriber that used the
// default identity mapper gets back eventlog.Event values.
type Delivery struct {
	Events []any
}

// CaughtUp is the `{caught_up, cursor}` control message of spec.md §4.6,
// §9: emitted once, only after the ack for the final historical batch has
// landed.
type CaughtUp struct {
	Cursor int64
}

// Channel is the one-way delivery port of spec.md §4.6: events flow out to
// the subscriber, a single control message announces catch-up completion.
// The ack path is not on this type — it is Subscription.Ack, an inbound
// call into the FSM, not an outbound channel.
type Channel struct {
	consumerCtx context.Context

	events   chan Delivery
	caughtUp chan CaughtUp
}

func newChannel(consumerCtx context.Context) *Channel {
	return &Channel{
		consumerCtx: consumerCtx,
		events:      make(chan Delivery, 1),
		caughtUp:    make(chan CaughtUp, 1),
	}
}

// Events is the outbound event-batch stream.
func (c *Channel) Events() <-chan Delivery { return c.events }

// CaughtUp is the outbound catch-up-complete control stream.
func (c *Channel) CaughtUp() <-chan CaughtUp { return c.caughtUp }

// sendEvents delivers a batch, or reports errSubscriberDown if the
// consumer's context ends first (spec.md §7 SubscriberDown).
func (c *Channel) sendEvents(ctx context.Context, d Delivery) error {
	select {
	case c.events <- d:
		return nil
	case <-c.consumerCtx.Done():
		return errSubscriberDown
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Channel) sendCaughtUp(ctx context.Context, cu CaughtUp) error {
	select {
	case c.caughtUp <- cu:
		return nil
	case <-c.consumerCtx.Done():
		return errSubscriberDown
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Channel) closeOutbound() {
	close(c.events)
	close(c.caughtUp)
}
