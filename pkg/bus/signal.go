// SPDX-License-Identifier: BSD-3-Clause

package bus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// Signal is a decoded bus signal: a property transition or an
// InterfacesAdded-equivalent notification, carried as a NATS message on one
// of the internal.* subjects such as InternalPresenceChanged or
// InternalPropertyChanged.
type Signal struct {
	Path      string          `json:"path"`
	Interface string          `json:"interface"`
	Property  string          `json:"property,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`
}

// SignalHandler is invoked synchronously, from the NATS client's delivery
// goroutine, with the decoded signal and the opaque context the subscriber
// registered with. Handlers must not block: the spec's single
// cooperative-event-loop model maps onto "do not do slow work here".
type SignalHandler func(ctx context.Context, sig Signal, subscriberCtx any)

// Subscription is a live match handle returned by Subscribe.
type Subscription struct {
	sub *subWrapper
}

// Unsubscribe removes the match. Safe to call more than once.
func (s *Subscription) Unsubscribe() error {
	if s == nil || s.sub == nil {
		return nil
	}
	return s.sub.unsubscribe()
}

type subWrapper struct {
	unsubscribeFn func() error
}

func (w *subWrapper) unsubscribe() error {
	return w.unsubscribeFn()
}

// Subscribe registers handler for every Signal published on matchExpr
// (a NATS subject, which may contain wildcards). subscriberCtx is opaque
// data threaded back to handler unchanged, mirroring the object bus's
// match-rule user_data parameter.
func (f *Facade) Subscribe(matchExpr string, subscriberCtx any, handler SignalHandler) (*Subscription, error) {
	if f.nc == nil {
		return nil, ErrNotConnected
	}

	sub, err := f.nc.Subscribe(matchExpr, func(msg *nats.Msg) {
		var sig Signal
		if err := json.Unmarshal(msg.Data, &sig); err != nil {
			f.logger.Warn("bus: dropping malformed signal", slog.String("subject", matchExpr), slog.Any("error", err))
			return
		}
		handler(context.Background(), sig, subscriberCtx)
	})
	if err != nil {
		return nil, err
	}

	return &Subscription{sub: &subWrapper{unsubscribeFn: sub.Unsubscribe}}, nil
}

// Publish emits a Signal on subject, for use by the subsystem that owns the
// property being changed (e.g. PresenceEngine publishing Inventory.Item's
// Present, ControlEngine publishing a property snapshot).
func (f *Facade) Publish(subject string, sig Signal) error {
	if f.nc == nil {
		return ErrNotConnected
	}
	body, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	return f.nc.Publish(subject, body)
}
