package dynfilter

import (
	"fmt"
	"sync"
)

// maxLocations bounds the number of concurrently tracked locations (worker
// threads). A host that exceeds it degrades gracefully: locations beyond the limit
// keep running, but get no shadow bookkeeping and are never patched around.
const maxLocations = 512

// Registry owns both halves of the data model: the process-wide Region
// records, and the per-location shadow records. It is the single point of
// truth the statistics engine, patcher and reporter all read from.
//
// The top-level map is guarded by a sync.RWMutex and populated almost
// entirely during the region-definition burst that precedes any enter/exit
// traffic, so the hot path only ever needs the read lock.
type Registry struct {
	mu      sync.RWMutex
	regions map[RegionID]*Region
	order   []RegionID // definition order, for deterministic reports

	locMu      sync.Mutex
	locations  map[LocationHandle]*location
	nextSlot   int
	maxLocSlot int
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		regions:    make(map[RegionID]*Region),
		locations:  make(map[LocationHandle]*location),
		maxLocSlot: maxLocations,
	}
}

// Define registers a region. Redefinition of an existing id is rejected:
// the host ABI defines regions once, during early instrumentation setup.
func (r *Registry) Define(id RegionID, name string, paradigm Paradigm) (*Region, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.regions[id]; exists {
		return nil, fmt.Errorf("dynfilter: region %d already defined", id)
	}
	reg := &Region{id: id, name: name}
	r.regions[id] = reg
	r.order = append(r.order, id)
	_ = paradigm // paradigm gating happens in the Substrate, not storage
	return reg, nil
}

// Region looks up a previously defined region.
func (r *Registry) Region(id RegionID) (*Region, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.regions[id]
	return reg, ok
}

// Regions returns every defined region, in definition order.
func (r *Registry) Regions() []*Region {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Region, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.regions[id])
	}
	return out
}

// Len reports the number of defined regions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.regions)
}

// CreateLocation registers a new location and, unless it is the main
// location, seeds it with a shadow record for every region known at this
// point in time. Regions defined afterward are simply never shadowed for
// this location: the statistics engine does no bookkeeping for them there.
//
// Returns nil, false once maxLocations concurrent locations are live; the
// caller (Substrate.OnCreateLocation) logs and continues without shadow
// bookkeeping for the overflow location.
func (r *Registry) CreateLocation(handle LocationHandle, hostID uint32, isMain bool) (*location, bool) {
	r.locMu.Lock()
	defer r.locMu.Unlock()

	if len(r.locations) >= r.maxLocSlot {
		return nil, false
	}

	shadows := make(map[RegionID]*shadow)
	if !isMain {
		r.mu.RLock()
		for _, id := range r.order {
			shadows[id] = &shadow{regionID: id}
		}
		r.mu.RUnlock()
	}

	loc := &location{
		handle:  handle,
		hostID:  hostID,
		isMain:  isMain,
		slot:    r.nextSlot,
		shadows: shadows,
	}
	r.nextSlot++
	r.locations[handle] = loc
	return loc, true
}

// DeleteLocation removes a location's bookkeeping. It does not fold its
// shadow state back into the global regions: the caller is expected to have
// already merged via Substrate.OnThreadJoin before calling this.
func (r *Registry) DeleteLocation(handle LocationHandle) {
	r.locMu.Lock()
	defer r.locMu.Unlock()
	delete(r.locations, handle)
}

// Location looks up a tracked location by handle.
func (r *Registry) Location(handle LocationHandle) (*location, bool) {
	r.locMu.Lock()
	defer r.locMu.Unlock()
	loc, ok := r.locations[handle]
	return loc, ok
}

// NumLocations reports the number of currently tracked locations.
func (r *Registry) NumLocations() int {
	r.locMu.Lock()
	defer r.locMu.Unlock()
	return len(r.locations)
}

// GetShadow returns the shadow record a location keeps for a region. It
// returns ok=false when the location was never registered (overflow past
// maxLocations), is the main location, or the region was defined after the
// location was created; callers skip bookkeeping for that event in that case.
func (r *Registry) GetShadow(loc *location, id RegionID) (*shadow, bool) {
	if loc == nil {
		return nil, false
	}
	sh, ok := loc.shadows[id]
	return sh, ok
}

// ShadowsOf returns every shadow tracked by a location, for merge-on-join.
func (r *Registry) ShadowsOf(loc *location) []*shadow {
	if loc == nil {
		return nil
	}
	out := make([]*shadow, 0, len(loc.shadows))
	for _, sh := range loc.shadows {
		out = append(out, sh)
	}
	return out
}
