// SPDX-License-Identifier: BSD-3-Clause

package daemon

import (
	"context"
	"log/slog"
	"time"

	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/log"
	"github.com/openbmc/phosphor-fan-presence-sub001/pkg/telemetry"
	"github.com/openbmc/phosphor-fan-presence-sub001/service"
	"github.com/openbmc/phosphor-fan-presence-sub001/service/ipc"
	svctelemetry "github.com/openbmc/phosphor-fan-presence-sub001/service/telemetry"
)

type config struct {
	name        string
	id          string
	disableLogo bool
	customLogo  string
	otelSetup   func()
	logger      *slog.Logger
	timeout     time.Duration

	ipc *ipc.IPC

	// Everything of type service.Service needs to be exported so Run can
	// discover it via reflection, mirroring the supervision-tree wiring the
	// rest of this codebase's orchestrator uses.
	Presencemgr service.Service
	Controlmgr  service.Service
	Shutdownmon service.Service
	Telemetry   service.Service

	extraServices []service.Service

	flightrecCapacity int
	flightrecDumpPath string

	pidFilePath string

	reloadFn func(ctx context.Context) error
}

// Option configures a Daemon.
type Option interface {
	apply(*config)
}

type nameOption string

func (o nameOption) apply(c *config) { c.name = string(o) }

// WithName sets the daemon's registered name.
func WithName(name string) Option { return nameOption(name) }

type idOption string

func (o idOption) apply(c *config) { c.id = string(o) }

// WithID sets a fixed identifier, bypassing persistent-ID generation.
func WithID(id string) Option { return idOption(id) }

type disableLogoOption bool

func (o disableLogoOption) apply(c *config) { c.disableLogo = bool(o) }

// WithDisableLogo suppresses the startup banner.
func WithDisableLogo(disable bool) Option { return disableLogoOption(disable) }

type customLogoOption string

func (o customLogoOption) apply(c *config) { c.customLogo = string(o) }

// WithCustomLogo overrides the startup banner text.
func WithCustomLogo(logo string) Option { return customLogoOption(logo) }

type otelSetupOption func()

func (o otelSetupOption) apply(c *config) { c.otelSetup = o }

// WithOtelSetup overrides the telemetry bootstrap function run before the
// global logger is fetched.
func WithOtelSetup(fn func()) Option { return otelSetupOption(fn) }

type loggerOption struct{ logger *slog.Logger }

func (o loggerOption) apply(c *config) { c.logger = o.logger }

// WithLogger overrides the daemon's own pre-startup logger.
func WithLogger(logger *slog.Logger) Option { return loggerOption{logger: logger} }

type timeoutOption time.Duration

func (o timeoutOption) apply(c *config) { c.timeout = time.Duration(o) }

// WithTimeout sets the supervision tree's per-child start/stop timeout.
func WithTimeout(timeout time.Duration) Option { return timeoutOption(timeout) }

type ipcOption struct{ ipc *ipc.IPC }

func (o ipcOption) apply(c *config) { c.ipc = o.ipc }

// WithIPC configures the embedded in-process NATS bus. If omitted, Run
// requires an external ipcConn to be passed in instead.
func WithIPC(opts ...ipc.Option) Option { return ipcOption{ipc: ipc.New(opts...)} }

type presencemgrOption struct{ svc service.Service }

func (o presencemgrOption) apply(c *config) { c.Presencemgr = o.svc }

// WithPresenceMgr wires a pre-built presencemgr.PresenceMgr into the daemon.
func WithPresenceMgr(svc service.Service) Option { return presencemgrOption{svc: svc} }

type controlmgrOption struct{ svc service.Service }

func (o controlmgrOption) apply(c *config) { c.Controlmgr = o.svc }

// WithControlMgr wires a pre-built controlmgr.ControlMgr into the daemon.
func WithControlMgr(svc service.Service) Option { return controlmgrOption{svc: svc} }

type shutdownmonOption struct{ svc service.Service }

func (o shutdownmonOption) apply(c *config) { c.Shutdownmon = o.svc }

// WithShutdownMon wires a pre-built shutdownmon.ShutdownMon into the daemon.
func WithShutdownMon(svc service.Service) Option { return shutdownmonOption{svc: svc} }

type telemetryOption struct{ svc service.Service }

func (o telemetryOption) apply(c *config) { c.Telemetry = o.svc }

// WithTelemetry configures the telemetry service.
func WithTelemetry(opts ...svctelemetry.Option) Option {
	return telemetryOption{svc: svctelemetry.New(opts...)}
}

type extraServicesOption []service.Service

func (o extraServicesOption) apply(c *config) { c.extraServices = append(c.extraServices, o...) }

// WithExtraServices adds additional services to the supervision tree.
func WithExtraServices(services ...service.Service) Option { return extraServicesOption(services) }

type flightrecOption struct {
	capacity int
	dumpPath string
}

func (o flightrecOption) apply(c *config) {
	c.flightrecCapacity = o.capacity
	c.flightrecDumpPath = o.dumpPath
}

// WithFlightRecorder enables the in-memory bus activity recorder; SIGUSR1
// dumps its current contents to dumpPath.
func WithFlightRecorder(capacity int, dumpPath string) Option {
	return flightrecOption{capacity: capacity, dumpPath: dumpPath}
}

type reloadOption func(ctx context.Context) error

func (o reloadOption) apply(c *config) { c.reloadFn = o }

// WithReloadFunc registers the callback invoked on SIGHUP. It is responsible
// for building any candidate configuration and calling Reload on whichever
// services it owns; the daemon itself is agnostic to what a reload means
// for any given service.
func WithReloadFunc(fn func(ctx context.Context) error) Option { return reloadOption(fn) }

type pidFileOption string

func (o pidFileOption) apply(c *config) { c.pidFilePath = string(o) }

// WithPIDFile makes Run write its own PID to path on startup, so the
// fanctl CLI's reload subcommand can signal the running daemon.
func WithPIDFile(path string) Option { return pidFileOption(path) }

func defaultConfig() *config {
	return &config{
		name:        "daemon",
		otelSetup:   telemetry.DefaultSetup,
		logger:      log.NewDefaultLogger(),
		timeout:     10 * time.Second,
		pidFilePath: "/var/run/phosphor-fan-presence-sub001.pid",
	}
}
