package dynfilter

import (
	"fmt"
	"os"
)

// Accessors mirrors the host's callback-installer vtable: a small set
// of read-only queries the substrate uses to resolve region metadata and
// the experiment directory. The host supplies a concrete implementation at
// SetCallbacks time; cmd/scorep-dynfilter-plugin wires it from the C ABI.
type Accessors struct {
	RegionName          func(RegionID) string
	RegionParadigm      func(RegionID) Paradigm
	LocationID          func(LocationHandle) uint32
	ExperimentDirectory func() string
}

// EventTable is the callback table the host installs and calls for every
// instrumented event. Recording-disabled mode installs an EventTable with
// every field nil; the host is expected to skip nil entries.
type EventTable struct {
	EnterRegion func(location LocationHandle, region RegionID, ts uint64)
	ExitRegion  func(location LocationHandle, region RegionID, ts uint64)
	TeamBegin   func(location LocationHandle)
	TeamEnd     func(location LocationHandle)
	ThreadJoin  func(location LocationHandle)
}

// RecordingMode selects which of the two event tables GetEventFunctions
// returns, mirroring the host ABI's enabled/disabled split.
type RecordingMode int

const (
	RecordingEnabled RecordingMode = iota
	RecordingDisabled
)

// Plugin implements the full host ABI surface: initialization, id
// assignment, finalization, location lifecycle, the unify/write-data
// hooks, and the enabled/disabled event tables. It is the package's one
// stateful top-level object; cmd/scorep-dynfilter-plugin's cgo boundary
// does nothing but marshal C calls onto Plugin's methods.
type Plugin struct {
	substrate *Substrate
	reporter  *Reporter
	accessors Accessors
	pluginID  uint32
}

// NewPlugin wires a Substrate, Registry, and Reporter into a host-ABI-facing
// Plugin, using cfg (already validated by LoadConfig) and log for
// diagnostics.
func NewPlugin(cfg Config, log *Logger) *Plugin {
	reg := NewRegistry()
	diag := newDiagnostics(log)
	var walker StackWalker = NewStackWalker()
	patcher := NewPatcher(NewSysMemProtector(), diag)
	sub := NewSubstrate(cfg, reg, walker, patcher, log, diag)
	return &Plugin{
		substrate: sub,
		reporter:  NewReporter(reg, cfg),
	}
}

// EarlyInit runs before any region is defined. There is nothing to do yet:
// the substrate has no state until AssignID/SetCallbacks complete.
func (p *Plugin) EarlyInit() error { return nil }

// AssignID records the plugin id the host assigned this substrate instance.
func (p *Plugin) AssignID(id uint32) { p.pluginID = id }

// LateInit runs once accessors are available, nothing further is required.
func (p *Plugin) LateInit() error { return nil }

// SetCallbacks installs the host accessor vtable.
func (p *Plugin) SetCallbacks(accessors Accessors) {
	p.accessors = accessors
	p.substrate.accessors = accessors
}

// DefineHandle registers a newly defined region.
func (p *Plugin) DefineHandle(id RegionID, name string, paradigm Paradigm) {
	if _, err := p.substrate.registry.Define(id, name, paradigm); err != nil {
		// Host contract violation: a region id was redefined. Fatal.
		p.substrate.log.Crit().Err(err).Log("dynfilter: fatal host contract violation")
		os.Exit(1)
	}
}

// CreateLocation registers a newly created location.
func (p *Plugin) CreateLocation(handle LocationHandle, hostID uint32) {
	p.substrate.OnCreateLocation(handle, hostID)
}

// DeleteLocation tears down a location's bookkeeping.
func (p *Plugin) DeleteLocation(handle LocationHandle) {
	p.substrate.OnDeleteLocation(handle)
}

// PreUnify is a no-op: this substrate has no distributed identifiers to
// reconcile across ranks.
func (p *Plugin) PreUnify() error { return nil }

// WriteData triggers the post-run report and filter file.
func (p *Plugin) WriteData() error {
	dir := ""
	if p.accessors.ExperimentDirectory != nil {
		dir = p.accessors.ExperimentDirectory()
	}
	return p.reporter.Write(dir)
}

// Finalize runs at process shutdown; no additional resources to release.
func (p *Plugin) Finalize() {}

// GetEventFunctions returns the callback table for the requested recording
// mode. Disabled mode returns an EventTable with every field nil, per the
// ABI's "disabled-mode still returns a structurally valid table" contract.
func (p *Plugin) GetEventFunctions(mode RecordingMode) EventTable {
	if mode == RecordingDisabled {
		return EventTable{}
	}
	return EventTable{
		EnterRegion: p.substrate.OnEnterRegion,
		ExitRegion:  p.substrate.OnExitRegion,
		TeamBegin:   func(LocationHandle) { p.substrate.OnTeamBegin() },
		TeamEnd:     func(LocationHandle) { p.substrate.OnTeamEnd() },
		ThreadJoin:  p.substrate.OnThreadJoin,
	}
}

// RequiresExperimentDirectory reports whether this substrate needs the
// host to create its experiment directory requirement-flag query.
func (p *Plugin) RequiresExperimentDirectory() bool {
	return p.substrate.cfg.CreateReport || p.substrate.cfg.CreateFilterFile
}

// String renders a short identity for logs; not part of the host ABI.
func (p *Plugin) String() string {
	return fmt.Sprintf("dynfilter-plugin(id=%d)", p.pluginID)
}
