package dynfilter

import (
	"sync"
)

type (
	// RegionID is the host-assigned handle identifying an instrumented
	// region. Regions are defined once, early, and never redefined.
	RegionID uint32

	// LocationHandle is the opaque, host-assigned handle identifying a
	// location (an OS thread, in the common case). It is never
	// dereferenced by this package; it is only used as a map key.
	LocationHandle uintptr

	// Paradigm classifies the instrumentation mechanism behind a region.
	// Only ParadigmCompiler regions are ever subject to patching.
	Paradigm int

	// Policy selects the deletability rule used by the statistics engine.
	Policy int
)

const (
	ParadigmCompiler Paradigm = iota
	ParadigmOther
)

const (
	// PolicyAbsolute marks a region deletable once its mean duration drops
	// below a fixed tick threshold.
	PolicyAbsolute Policy = iota
	// PolicyRelative marks a region deletable once its mean duration falls
	// a configured delta below the mean of all live regions' means.
	PolicyRelative
)

func (p Policy) String() string {
	switch p {
	case PolicyAbsolute:
		return "absolute"
	case PolicyRelative:
		return "relative"
	default:
		return "unknown"
	}
}

// Region is the global, per-region record described by the data model: one
// instance per region handle, for the lifetime of the process. Fields
// touched by the hot enter/exit path are guarded by mu; name and id are
// immutable after construction.
type Region struct {
	id   RegionID
	name string

	mu            sync.Mutex
	callCount     uint64
	durationTotal uint64
	lastEnterTS   uint64
	depth         int32
	enterCallsite uintptr
	exitCallsite  uintptr
	meanDuration  float64
	deletable     bool
	inactive      bool
	optimizedOut  bool
}

// ID returns the region's host-assigned handle.
func (r *Region) ID() RegionID { return r.id }

// Name returns the region's reporting name.
func (r *Region) Name() string { return r.name }

// Snapshot is a point-in-time, race-free copy of a Region's fields, used by
// the statistics engine's callers (the reporter, tests) without holding the
// region's mutex across unrelated work.
type Snapshot struct {
	ID            RegionID
	Name          string
	CallCount     uint64
	DurationTotal uint64
	MeanDuration  float64
	Depth         int32
	EnterCallsite uintptr
	ExitCallsite  uintptr
	Deletable     bool
	Inactive      bool
	OptimizedOut  bool
}

// Snapshot copies out r's current state under its mutex.
func (r *Region) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		ID:            r.id,
		Name:          r.name,
		CallCount:     r.callCount,
		DurationTotal: r.durationTotal,
		MeanDuration:  r.meanDuration,
		Depth:         r.depth,
		EnterCallsite: r.enterCallsite,
		ExitCallsite:  r.exitCallsite,
		Deletable:     r.deletable,
		Inactive:      r.inactive,
		OptimizedOut:  r.optimizedOut,
	}
}

// shadow is the per-thread, per-region record. It is owned exclusively by
// the location that created it: only that location's goroutine/OS thread
// ever reads or writes it, so it needs no synchronization of its own.
type shadow struct {
	regionID         RegionID
	callCountLocal   uint64
	durationLocal    uint64
	lastEnterTSLocal uint64
	enterCallsite    uintptr
	exitCallsite     uintptr
	optimizedOut     bool
}

// location represents one host-assigned location (thread). Exactly one
// location has isMain set: the one whose host-assigned id is zero.
type location struct {
	handle LocationHandle
	hostID uint32
	isMain bool
	slot   int

	// shadows is populated once, at CreateLocation, with an entry for
	// every region known at that time. It is never mutated again for the
	// life of the location (regions defined afterward are simply absent),
	// so reads from the owning thread need no lock. DeleteLocation drops
	// the whole location from the registry, under the location mutex. The
	// main location's map is empty.
	shadows map[RegionID]*shadow
}

// HookFamily names the paired enter/exit hook symbols for one supported
// instrumentation toolchain.
type HookFamily struct {
	Enter string
	Exit  string
}

// KnownHookFamilies are the instrumentation hook symbol pairs this substrate
// knows how to locate and patch around.
var KnownHookFamilies = []HookFamily{
	{Enter: "__cyg_profile_func_enter", Exit: "__cyg_profile_func_exit"},
	{Enter: "scorep_plugin_enter_region", Exit: "scorep_plugin_exit_region"},
	{Enter: "__VT_IntelEntry", Exit: "__VT_IntelExit"},
}

