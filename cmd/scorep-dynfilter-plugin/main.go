// Command scorep-dynfilter-plugin builds the C-shared object a Score-P
// measurement run dlopens as a substrate plugin. It is the only place in
// this module that speaks the C ABI described in SCOREP_SubstratePlugins.h:
// every exported function here does nothing but marshal arguments onto
// dynfilter.Plugin and hand results back across the cgo boundary.
//
// Build with: go build -buildmode=c-shared -o libscorep_substrate_dynfilter.so ./cmd/scorep-dynfilter-plugin
package main

/*
#include <stdint.h>
#include <stdlib.h>

typedef const char *(*region_name_fn)(uint32_t);
typedef int (*region_paradigm_fn)(uint32_t);
typedef uint32_t (*location_id_fn)(uintptr_t);
typedef const char *(*experiment_dir_fn)(void);

typedef void (*enter_region_fn)(uintptr_t, uint32_t, uint64_t);
typedef void (*exit_region_fn)(uintptr_t, uint32_t, uint64_t);
typedef void (*team_fn)(uintptr_t);
typedef void (*thread_join_fn)(uintptr_t);
*/
import "C"

import (
	"os"
	"sync"

	"github.com/joeycumines/logiface"
	dynfilter "github.com/rschoene/scorep-substrates-dynamic-filtering"
)

// envPrefix names the environment variables this plugin reads: this
// plugin instance is always "SCOREP_SUBSTRATES_DYNFILTER_*".
const envPrefix = "SCOREP_SUBSTRATES_DYNFILTER"

var (
	initOnce sync.Once
	plugin   *dynfilter.Plugin
	pluginID uint32
)

// newPlugin lazily constructs the package-level Plugin once config and the
// logger are ready; early_init is the first ABI call the host makes, so it
// is the natural place to do this, per the call-order contract.
func newPlugin() *dynfilter.Plugin {
	initOnce.Do(func() {
		cfg, err := dynfilter.LoadConfig(envPrefix, os.Getenv)
		if err != nil {
			// Configuration parse error or zero threshold is fatal at init.
			os.Stderr.WriteString("dynfilter: " + err.Error() + "\n")
			os.Exit(1)
		}
		log := dynfilter.NewLogger(logiface.LevelWarning)
		plugin = dynfilter.NewPlugin(cfg, log)
	})
	return plugin
}

//export dynfilter_early_init
func dynfilter_early_init() C.int {
	if err := newPlugin().EarlyInit(); err != nil {
		return -1
	}
	return 0
}

//export dynfilter_assign_id
func dynfilter_assign_id(id C.size_t) {
	pluginID = uint32(id)
	newPlugin().AssignID(pluginID)
}

//export dynfilter_late_init
func dynfilter_late_init() {
	_ = newPlugin().LateInit()
}

//export dynfilter_finalize
func dynfilter_finalize() C.size_t {
	newPlugin().Finalize()
	return C.size_t(pluginID)
}

//export dynfilter_set_callbacks
func dynfilter_set_callbacks(
	regionName C.region_name_fn,
	regionParadigm C.region_paradigm_fn,
	locationID C.location_id_fn,
	experimentDir C.experiment_dir_fn,
) {
	newPlugin().SetCallbacks(dynfilter.Accessors{
		RegionName: func(id dynfilter.RegionID) string {
			if regionName == nil {
				return ""
			}
			cstr := C.region_name_fn(regionName)(C.uint32_t(id))
			return C.GoString(cstr)
		},
		RegionParadigm: func(id dynfilter.RegionID) dynfilter.Paradigm {
			if regionParadigm == nil {
				return dynfilter.ParadigmOther
			}
			if C.region_paradigm_fn(regionParadigm)(C.uint32_t(id)) == 0 {
				return dynfilter.ParadigmCompiler
			}
			return dynfilter.ParadigmOther
		},
		LocationID: func(h dynfilter.LocationHandle) uint32 {
			if locationID == nil {
				return 0
			}
			return uint32(C.location_id_fn(locationID)(C.uintptr_t(h)))
		},
		ExperimentDirectory: func() string {
			if experimentDir == nil {
				return ""
			}
			return C.GoString(C.experiment_dir_fn(experimentDir)())
		},
	})
}

//export dynfilter_define_region
func dynfilter_define_region(id C.uint32_t, name *C.char, paradigm C.int) {
	p := dynfilter.ParadigmOther
	if paradigm == 0 {
		p = dynfilter.ParadigmCompiler
	}
	newPlugin().DefineHandle(dynfilter.RegionID(id), C.GoString(name), p)
}

//export dynfilter_create_location
func dynfilter_create_location(handle C.uintptr_t, hostID C.uint32_t) {
	newPlugin().CreateLocation(dynfilter.LocationHandle(handle), uint32(hostID))
}

//export dynfilter_delete_location
func dynfilter_delete_location(handle C.uintptr_t) {
	newPlugin().DeleteLocation(dynfilter.LocationHandle(handle))
}

//export dynfilter_pre_unify
func dynfilter_pre_unify() C.int {
	if err := newPlugin().PreUnify(); err != nil {
		return -1
	}
	return 0
}

//export dynfilter_write_data
func dynfilter_write_data() C.int {
	if err := newPlugin().WriteData(); err != nil {
		return -1
	}
	return 0
}

//export dynfilter_requires_experiment_directory
func dynfilter_requires_experiment_directory() C.int {
	if newPlugin().RequiresExperimentDirectory() {
		return 1
	}
	return 0
}

//export dynfilter_enter_region
func dynfilter_enter_region(location C.uintptr_t, region C.uint32_t, ts C.uint64_t) {
	newPlugin().GetEventFunctions(dynfilter.RecordingEnabled).EnterRegion(
		dynfilter.LocationHandle(location), dynfilter.RegionID(region), uint64(ts),
	)
}

//export dynfilter_exit_region
func dynfilter_exit_region(location C.uintptr_t, region C.uint32_t, ts C.uint64_t) {
	newPlugin().GetEventFunctions(dynfilter.RecordingEnabled).ExitRegion(
		dynfilter.LocationHandle(location), dynfilter.RegionID(region), uint64(ts),
	)
}

//export dynfilter_team_begin
func dynfilter_team_begin(location C.uintptr_t) {
	newPlugin().GetEventFunctions(dynfilter.RecordingEnabled).TeamBegin(dynfilter.LocationHandle(location))
}

//export dynfilter_team_end
func dynfilter_team_end(location C.uintptr_t) {
	newPlugin().GetEventFunctions(dynfilter.RecordingEnabled).TeamEnd(dynfilter.LocationHandle(location))
}

//export dynfilter_thread_join
func dynfilter_thread_join(location C.uintptr_t) {
	newPlugin().GetEventFunctions(dynfilter.RecordingEnabled).ThreadJoin(dynfilter.LocationHandle(location))
}

// main is required by -buildmode=c-shared but never runs: the host only
// dlopens the shared object and resolves the exported symbols above.
func main() {}
