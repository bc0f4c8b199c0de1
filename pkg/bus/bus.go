// SPDX-License-Identifier: BSD-3-Clause

// Package bus implements BusFacade: a small, typed request/response and
// signal-subscription surface over the object bus, realized as NATS
// request/reply and publish/subscribe rather than a D-Bus binding. Every
// other subsystem (PresenceEngine, ControlEngine, ShutdownMonitor) talks to
// sensor, inventory, and systemd-equivalent collaborators exclusively
// through a Facade so that the wire transport and the object-mapper lookup
// it hides can be swapped without touching subsystem logic.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Request/reply subjects used internally by the Facade. These are
// implementation details of the facade, not part of the public IPC subject
// surface other services register endpoints on.
const (
	subjectServiceLookup   = "bus.service.lookup"
	subjectPropertyGet     = "bus.property.get"
	subjectPropertySet     = "bus.property.set"
	subjectMethodCall      = "bus.method.call"
	subjectSubTree         = "bus.subtree.get"
	subjectManagedObjects  = "bus.managedobjects.get"
)

// Facade is the BusFacade described by the object-bus subsystem: a typed
// wrapper around request/reply and pub/sub that never lets a raw transport
// error escape to a caller.
type Facade struct {
	nc     *nats.Conn
	logger *slog.Logger
	tracer trace.Tracer
	cfg    *config
}

// New wraps an established NATS connection as a Facade.
func New(nc *nats.Conn, logger *slog.Logger, opts ...Option) *Facade {
	if logger == nil {
		logger = slog.Default()
	}
	return &Facade{
		nc:     nc,
		logger: logger,
		tracer: otel.Tracer("bus"),
		cfg:    newConfig(opts...),
	}
}

type serviceLookupRequest struct {
	Path      string `json:"path"`
	Interface string `json:"interface"`
}

type serviceLookupResponse struct {
	Service string `json:"service"`
}

// GetService resolves the bus name that currently owns path+interface via
// the object mapper. Returns ErrServiceNotFound if no owner exists.
func (f *Facade) GetService(ctx context.Context, path, iface string) (string, error) {
	ctx, span := f.tracer.Start(ctx, "bus.GetService",
		trace.WithAttributes(attribute.String("path", path), attribute.String("interface", iface)))
	defer span.End()

	var resp serviceLookupResponse
	if err := f.request(ctx, subjectServiceLookup, serviceLookupRequest{Path: path, Interface: iface}, &resp); err != nil {
		return "", &OpError{Op: "getService", Path: path, Interface: iface, Err: fmt.Errorf("%w: %w", ErrServiceNotFound, err)}
	}
	if resp.Service == "" {
		return "", &OpError{Op: "getService", Path: path, Interface: iface, Err: ErrServiceNotFound}
	}
	return resp.Service, nil
}

type propertyGetRequest struct {
	Path      string `json:"path"`
	Interface string `json:"interface"`
	Property  string `json:"property"`
}

type propertyGetResponse struct {
	Value json.RawMessage `json:"value"`
}

// GetProperty reads a typed property value into out. out must be a pointer.
func (f *Facade) GetProperty(ctx context.Context, path, iface, property string, out any) error {
	ctx, span := f.tracer.Start(ctx, "bus.GetProperty", trace.WithAttributes(
		attribute.String("path", path), attribute.String("interface", iface), attribute.String("property", property)))
	defer span.End()

	var resp propertyGetResponse
	if err := f.request(ctx, subjectPropertyGet, propertyGetRequest{Path: path, Interface: iface, Property: property}, &resp); err != nil {
		return &OpError{Op: "getProperty", Path: path, Interface: iface, Property: property, Err: fmt.Errorf("%w: %w", ErrPropertyUnavailable, err)}
	}
	if err := json.Unmarshal(resp.Value, out); err != nil {
		return &OpError{Op: "getProperty", Path: path, Interface: iface, Property: property, Err: fmt.Errorf("%w: %w", ErrPropertyUnavailable, err)}
	}
	return nil
}

type propertySetRequest struct {
	Path      string          `json:"path"`
	Interface string          `json:"interface"`
	Property  string          `json:"property"`
	Value     json.RawMessage `json:"value"`
}

// SetProperty writes a typed property value.
func (f *Facade) SetProperty(ctx context.Context, path, iface, property string, value any) error {
	ctx, span := f.tracer.Start(ctx, "bus.SetProperty", trace.WithAttributes(
		attribute.String("path", path), attribute.String("interface", iface), attribute.String("property", property)))
	defer span.End()

	raw, err := json.Marshal(value)
	if err != nil {
		return &OpError{Op: "setProperty", Path: path, Interface: iface, Property: property, Err: fmt.Errorf("%w: %w", ErrPropertyWriteFailed, err)}
	}

	if err := f.request(ctx, subjectPropertySet, propertySetRequest{Path: path, Interface: iface, Property: property, Value: raw}, nil); err != nil {
		return &OpError{Op: "setProperty", Path: path, Interface: iface, Property: property, Err: fmt.Errorf("%w: %w", ErrPropertyWriteFailed, err)}
	}
	return nil
}

type methodCallRequest struct {
	Service   string          `json:"service"`
	Path      string          `json:"path"`
	Interface string          `json:"interface"`
	Method    string          `json:"method"`
	Args      json.RawMessage `json:"args,omitempty"`
}

// CallMethod invokes a bus method. args and reply may be nil.
func (f *Facade) CallMethod(ctx context.Context, service, path, iface, method string, args, reply any) error {
	ctx, span := f.tracer.Start(ctx, "bus.CallMethod", trace.WithAttributes(
		attribute.String("service", service), attribute.String("path", path),
		attribute.String("interface", iface), attribute.String("method", method)))
	defer span.End()

	var rawArgs json.RawMessage
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return &OpError{Op: "callMethod", BusName: service, Path: path, Interface: iface, Method: method, Err: fmt.Errorf("%w: %w", ErrMethodCallFailed, err)}
		}
		rawArgs = raw
	}

	req := methodCallRequest{Service: service, Path: path, Interface: iface, Method: method, Args: rawArgs}
	if err := f.request(ctx, subjectMethodCall, req, reply); err != nil {
		return &OpError{Op: "callMethod", BusName: service, Path: path, Interface: iface, Method: method, Err: fmt.Errorf("%w: %w", ErrMethodCallFailed, err)}
	}
	return nil
}

type subTreeRequest struct {
	Root      string `json:"root"`
	Interface string `json:"interface"`
	Depth     int    `json:"depth"`
}

type subTreeResponse struct {
	Paths []string `json:"paths"`
}

// GetSubTreePaths lists object paths below root implementing interface, to
// a maximum depth (0 means unlimited).
func (f *Facade) GetSubTreePaths(ctx context.Context, root, iface string, depth int) ([]string, error) {
	ctx, span := f.tracer.Start(ctx, "bus.GetSubTreePaths", trace.WithAttributes(
		attribute.String("root", root), attribute.String("interface", iface)))
	defer span.End()

	var resp subTreeResponse
	if err := f.request(ctx, subjectSubTree, subTreeRequest{Root: root, Interface: iface, Depth: depth}, &resp); err != nil {
		return nil, &OpError{Op: "getSubTreePaths", Path: root, Interface: iface, Err: fmt.Errorf("%w: %w", ErrMethodCallFailed, err)}
	}
	return resp.Paths, nil
}

type managedObjectsRequest struct {
	Service string `json:"service"`
	Path    string `json:"path"`
}

// ManagedObjects is path -> interface -> property -> value.
type ManagedObjects map[string]map[string]map[string]json.RawMessage

// GetManagedObjects mirrors ObjectManager.GetManagedObjects: a full
// interface/property dump for every object under path owned by service.
func (f *Facade) GetManagedObjects(ctx context.Context, service, path string) (ManagedObjects, error) {
	ctx, span := f.tracer.Start(ctx, "bus.GetManagedObjects", trace.WithAttributes(
		attribute.String("service", service), attribute.String("path", path)))
	defer span.End()

	var resp ManagedObjects
	if err := f.request(ctx, subjectManagedObjects, managedObjectsRequest{Service: service, Path: path}, &resp); err != nil {
		return nil, &OpError{Op: "getManagedObjects", BusName: service, Path: path, Err: fmt.Errorf("%w: %w", ErrMethodCallFailed, err)}
	}
	return resp, nil
}

// request performs a JSON request/reply, unmarshaling into out unless out is nil.
func (f *Facade) request(ctx context.Context, subject string, payload any, out any) error {
	if f.nc == nil {
		return ErrNotConnected
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	msg, err := f.nc.RequestWithContext(ctx, subject, body)
	if err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(msg.Data, out)
}
