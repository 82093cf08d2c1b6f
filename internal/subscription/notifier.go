// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloEvents Contributors

package subscription

import (
	"context"
	"log/slog"
	"sync"

	"github.com/samber/oops"
)

// notifier is the Notifier Fan-in of spec.md §4.7: one live listener per
// distinct selector (a stream_uuid or the $all sentinel), fanning the
// position it receives out to every Subscription registered against it.
//
// A NotifyPosition is a cumulative watermark, so a dropped notification is
// usually harmless — the next one catches the subscriber up regardless. But
// if the dropped position was the last append that selector will ever see,
// no further notification ever arrives, and a subscriber whose inbox was
// too full to take it would sit "subscribed" forever without erroring.
// spec.md §7 requires terminating that slow subscriber instead, so a full
// inbox here is a BufferOverflow, not a log line.
type notifier struct {
	store EventStore
	log   *slog.Logger

	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}

	cancel map[string]context.CancelFunc
}

func newNotifier(store EventStore, log *slog.Logger) *notifier {
	return &notifier{
		store:  store,
		log:    log,
		subs:   make(map[string]map[*Subscription]struct{}),
		cancel: make(map[string]context.CancelFunc),
	}
}

// register subscribes sub to live notifications for streamUUID, starting
// the shared bus listener for that selector on first registration.
func (n *notifier) register(_ context.Context, sub *Subscription, streamUUID string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	subs, ok := n.subs[streamUUID]
	if !ok {
		subs = make(map[*Subscription]struct{})
		n.subs[streamUUID] = subs
		n.startListener(streamUUID)
	}
	subs[sub] = struct{}{}
}

// unregister removes sub from streamUUID's fan-out, stopping the shared bus
// listener once nobody is left subscribed to that selector.
func (n *notifier) unregister(sub *Subscription, streamUUID string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	subs, ok := n.subs[streamUUID]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(n.subs, streamUUID)
		if cancel, ok := n.cancel[streamUUID]; ok {
			cancel()
			delete(n.cancel, streamUUID)
		}
	}
}

// startListener opens the single bus connection for streamUUID and fans its
// positions out to every currently-registered subscriber. Caller must hold
// n.mu.
func (n *notifier) startListener(streamUUID string) {
	ctx, cancel := context.WithCancel(context.Background())
	n.cancel[streamUUID] = cancel

	posCh, errCh, err := n.store.SubscribeToBus(ctx, streamUUID)
	if err != nil {
		n.log.Error("notifier: failed to subscribe to bus", "stream_uuid", streamUUID, "error", err)
		cancel()
		delete(n.cancel, streamUUID)
		return
	}

	go func() {
		for {
			select {
			case pos, ok := <-posCh:
				if !ok {
					return
				}
				n.broadcast(streamUUID, notifyMsg{position: pos.Position})
			case err, ok := <-errCh:
				if !ok {
					continue
				}
				n.log.Warn("notifier: bus error", "stream_uuid", streamUUID, "error", err)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (n *notifier) broadcast(streamUUID string, msg notifyMsg) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for sub := range n.subs[streamUUID] {
		select {
		case sub.inbox <- msg:
		case <-sub.done:
		default:
			n.log.Warn("notifier: subscriber inbox full, terminating slow subscriber",
				"stream_uuid", streamUUID, "subscription", sub.name, "position", msg.position)
			select {
			case sub.kill <- oops.Code("BUFFER_OVERFLOW").
				With("subscription", sub.name).
				With("stream_uuid", streamUUID).
				Errorf("subscriber inbox was full when a live notification arrived"):
			case <-sub.done:
			default:
			}
		}
	}
}
