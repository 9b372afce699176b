package dynfilter

import (
	"sync"
	"sync/atomic"
)

// Substrate is the statistics engine: it turns enter/exit/team
// events into per-region accumulation and deletability decisions, guarded
// by the synchronization rules.
type Substrate struct {
	cfg       Config
	registry  *Registry
	walker    StackWalker
	patcher   *Patcher
	log       *Logger
	diag      *diagnostics
	sync      SyncCore
	accessors Accessors

	hookOnce   sync.Once
	hookFamily HookFamily
	hookKnown  bool

	// disabled latches true when a tail-call-optimized call-site was
	// detected and the user did not opt into CONTINUE_DESPITE_FAILURE.
	// Once set, enter/exit/join events are ignored for the rest of the
	// run.
	disabled atomic.Bool

	meanMu          sync.Mutex
	meanDurationAll float64
}

// NewSubstrate wires the statistics engine's collaborators together.
func NewSubstrate(cfg Config, reg *Registry, walker StackWalker, patcher *Patcher, log *Logger, diag *diagnostics) *Substrate {
	return &Substrate{
		cfg:      cfg,
		registry: reg,
		walker:   walker,
		patcher:  patcher,
		log:      log,
		diag:     diag,
	}
}

// OnCreateLocation implements registry location setup: id zero is
// the main thread and gets no shadow records; every location reserves a slot.
func (s *Substrate) OnCreateLocation(handle LocationHandle, hostID uint32) {
	isMain := hostID == 0
	if _, ok := s.registry.CreateLocation(handle, hostID, isMain); !ok {
		s.diag.warn(0, "slot-exhaustion", "dynfilter: worker location slot limit reached; thread will run without bookkeeping", map[string]any{
			"location": uint64(handle),
		})
	}
}

// OnDeleteLocation releases a location's bookkeeping.
func (s *Substrate) OnDeleteLocation(handle LocationHandle) {
	s.registry.DeleteLocation(handle)
}

// OnTeamBegin implements the team_begin contract.
func (s *Substrate) OnTeamBegin() { s.sync.TeamBegin() }

// OnTeamEnd implements the team_end contract.
func (s *Substrate) OnTeamEnd() { s.sync.TeamEnd() }

// ensureHookFamily discovers the instrumentation hook symbol pair once per
// process. If no family resolves, patching stays disabled for the run
// while bookkeeping continues.
func (s *Substrate) ensureHookFamily() {
	s.hookOnce.Do(func() {
		family, ok := DetectHookFamily(s.walker, KnownHookFamilies)
		s.hookFamily = family
		s.hookKnown = ok
		if !ok {
			s.diag.warn(0, "hook-family", "dynfilter: no recognized instrumentation hook symbol found; patching disabled", nil)
		}
	})
}

// paradigmGate reports whether region is eligible for the substrate's
// bookkeeping: only compiler-instrumentation regions participate.
func (s *Substrate) paradigmGate(id RegionID) bool {
	if s.accessors.RegionParadigm == nil {
		return true
	}
	return s.accessors.RegionParadigm(id) == ParadigmCompiler
}

// noteOptimizationFailure applies the continue-despite-failure policy:
// unless the user opted into continuing, one tail-call-optimized call-site
// disables the whole substrate for the remainder of the run.
func (s *Substrate) noteOptimizationFailure() {
	if !s.cfg.ContinueDespiteFailure {
		s.disabled.Store(true)
	}
}

// OnEnterRegion implements on_enter_region.
func (s *Substrate) OnEnterRegion(locHandle LocationHandle, id RegionID, ts uint64) {
	if s.disabled.Load() {
		return
	}
	if !s.paradigmGate(id) {
		return
	}
	s.ensureHookFamily()

	region, ok := s.registry.Region(id)
	if !ok {
		return // enter for an undefined region: silently ignored
	}

	loc, hasLoc := s.registry.Location(locHandle)
	if !hasLoc {
		// Overflow location past maxLocations: runs without bookkeeping,
		// "proceed uninstrumented-by-this-substrate" policy.
		return
	}
	if !loc.isMain {
		s.enterWorker(loc, region, ts)
		return
	}
	s.enterMain(region, ts)
}

func (s *Substrate) enterMain(region *Region, ts uint64) {
	region.mu.Lock()
	defer region.mu.Unlock()

	if region.optimizedOut || region.inactive {
		return
	}
	if s.hookKnown && region.enterCallsite == 0 {
		if addr, ok := ResolveEnterCallsite(s.walker, s.hookFamily.Enter); ok {
			region.enterCallsite = addr
		} else {
			region.optimizedOut = true
			s.diag.warn(region.id, "enter-unresolved", "dynfilter: could not resolve enter call-site", nil)
			return
		}
	}
	region.lastEnterTS = ts
	region.depth++
}

func (s *Substrate) enterWorker(loc *location, region *Region, ts uint64) {
	sh, ok := s.registry.GetShadow(loc, region.id)
	if !ok || sh.optimizedOut {
		return
	}
	if s.hookKnown && sh.enterCallsite == 0 {
		if addr, ok := ResolveEnterCallsite(s.walker, s.hookFamily.Enter); ok {
			sh.enterCallsite = addr
		} else {
			sh.optimizedOut = true
			return
		}
	}
	sh.lastEnterTSLocal = ts
}

// OnExitRegion implements on_exit_region.
func (s *Substrate) OnExitRegion(locHandle LocationHandle, id RegionID, ts uint64) {
	if s.disabled.Load() {
		return
	}
	if !s.paradigmGate(id) {
		return
	}
	s.ensureHookFamily()

	region, ok := s.registry.Region(id)
	if !ok {
		return
	}

	loc, hasLoc := s.registry.Location(locHandle)
	if !hasLoc {
		return
	}
	if !loc.isMain {
		s.exitWorker(loc, region, ts)
		return
	}
	s.exitMain(region, ts)
}

func (s *Substrate) exitMain(region *Region, ts uint64) {
	region.mu.Lock()
	if region.optimizedOut {
		region.mu.Unlock()
		return
	}
	if region.depth > 0 {
		region.depth--
	}
	if s.hookKnown && region.exitCallsite == 0 {
		addr, ok, optimizedOut := ResolveExitCallsite(s.walker, s.hookFamily.Exit)
		switch {
		case ok:
			region.exitCallsite = addr
		case optimizedOut:
			region.optimizedOut = true
			region.mu.Unlock()
			s.diag.warn(region.id, "exit-optimized-out", "dynfilter: exit call-site bytes did not decode to a recognized CALL; recompile with sibling-call optimization disabled (-fno-optimize-sibling-calls)", nil)
			s.noteOptimizationFailure()
			return
		}
	}

	if !region.inactive && !region.deletable {
		duration := durationSince(region.lastEnterTS, ts)
		region.callCount++
		region.durationTotal += duration
		s.applyDeletabilityLocked(region)
	}
	region.mu.Unlock()

	s.sync.IfQuiescent(func() {
		s.patcher.ApplyAllPending(s.registry)
	})
}

func (s *Substrate) exitWorker(loc *location, region *Region, ts uint64) {
	sh, ok := s.registry.GetShadow(loc, region.id)
	if !ok || sh.optimizedOut {
		return
	}
	if s.hookKnown && sh.exitCallsite == 0 {
		addr, ok, optimizedOut := ResolveExitCallsite(s.walker, s.hookFamily.Exit)
		switch {
		case ok:
			sh.exitCallsite = addr
		case optimizedOut:
			sh.optimizedOut = true
			s.noteOptimizationFailure()
			return
		}
	}
	sh.callCountLocal++
	sh.durationLocal += durationSince(sh.lastEnterTSLocal, ts)
}

// durationSince computes a monotone tick delta, defensively clamping
// against an out-of-order timestamp to preserve call_count/duration_total's
// monotone-non-decreasing invariant.
func durationSince(enterTS, exitTS uint64) uint64 {
	if exitTS <= enterTS {
		return 0
	}
	return exitTS - enterTS
}

// applyDeletabilityLocked applies the configured deletability rule.
// Caller must hold region.mu.
func (s *Substrate) applyDeletabilityLocked(region *Region) {
	if region.callCount == 0 {
		return
	}
	region.meanDuration = float64(region.durationTotal) / float64(region.callCount)

	switch s.cfg.Policy {
	case PolicyAbsolute:
		if region.meanDuration < float64(s.cfg.Threshold) {
			region.deletable = true
		}
	case PolicyRelative:
		meanAll := s.recomputeMeanDurationAll(region)
		if region.meanDuration < meanAll-float64(s.cfg.Threshold) {
			region.deletable = true
		}
	}
}

// recomputeMeanDurationAll recomputes mean_duration_all as the arithmetic
// mean of mean_duration over all non-inactive regions. region's own
// just-updated meanDuration is already reflected in the registry, since it
// is the same *Region the caller holds locked.
func (s *Substrate) recomputeMeanDurationAll(region *Region) float64 {
	regions := s.registry.Regions()
	var sum float64
	var n int
	for _, r := range regions {
		if r == region {
			sum += region.meanDuration
			n++
			continue
		}
		snap := r.Snapshot()
		if snap.Inactive {
			continue
		}
		sum += snap.MeanDuration
		n++
	}
	if n == 0 {
		return 0
	}
	mean := sum / float64(n)

	s.meanMu.Lock()
	s.meanDurationAll = mean
	s.meanMu.Unlock()

	return mean
}

// OnThreadJoin implements on_thread_join: merge every shadow into
// the global record, reset the shadow, re-evaluate deletability for every
// region, and invoke the patcher if active_threads has reached zero.
func (s *Substrate) OnThreadJoin(locHandle LocationHandle) {
	if s.disabled.Load() {
		return
	}
	loc, ok := s.registry.Location(locHandle)
	if !ok {
		return
	}

	for _, sh := range s.registry.ShadowsOf(loc) {
		region, ok := s.registry.Region(sh.regionID)
		if !ok {
			continue
		}

		region.mu.Lock()
		if !region.inactive {
			region.callCount += sh.callCountLocal
			region.durationTotal += sh.durationLocal
			if region.enterCallsite == 0 && sh.enterCallsite != 0 {
				region.enterCallsite = sh.enterCallsite
			}
			if region.exitCallsite == 0 && sh.exitCallsite != 0 {
				region.exitCallsite = sh.exitCallsite
			}
			if sh.optimizedOut {
				region.optimizedOut = true
			}
			s.applyDeletabilityLocked(region)
		}
		region.mu.Unlock()

		sh.callCountLocal = 0
		sh.durationLocal = 0
		sh.lastEnterTSLocal = 0
	}

	s.sync.IfQuiescent(func() {
		s.patcher.ApplyAllPending(s.registry)
	})
}
