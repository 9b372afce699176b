// Package dynfilter implements a dynamic instrumentation filter: a
// measurement substrate that watches region enter/exit events from a host
// tracing framework, keeps per-region call statistics, and once a region's
// mean cost falls below a configured threshold, overwrites the
// compiler-injected CALL instructions to its enter/exit hooks with 5-byte
// NOPs. Patched regions run instrumentation-free for the remainder of the
// process.
//
// The package is organized around five collaborators: the Registry (region
// and per-location shadow bookkeeping), the Substrate (statistics and event
// dispatch), the StackWalker (resolves call-site addresses from the current
// stack), the Patcher (performs the in-place code rewrite), and the Reporter
// (post-run table and filter file). cmd/scorep-dynfilter-plugin wires these
// to the C ABI a Score-P-compatible host expects.
package dynfilter
