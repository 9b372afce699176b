package dynfilter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
)

// Reporter renders the post-run textual table and filter file.
// The fixed-width table uses text/tabwriter — the standard library's own
// tool for exactly this job, and not a concern any example repo's
// dependency stack covers, so it is kept on stdlib per DESIGN.md.
type Reporter struct {
	registry *Registry
	cfg      Config
}

// NewReporter builds a Reporter over reg, configured by cfg's
// CreateReport/CreateFilterFile flags.
func NewReporter(reg *Registry, cfg Config) *Reporter {
	return &Reporter{registry: reg, cfg: cfg}
}

// Write emits the table (if enabled) to stdout and the filter file (if
// enabled) into experimentDir, on the host's write-data event.
func (r *Reporter) Write(experimentDir string) error {
	if r.cfg.CreateReport {
		if err := r.writeTableTo(os.Stdout); err != nil {
			return err
		}
	}
	if r.cfg.CreateFilterFile {
		if err := r.writeFilterFile(experimentDir); err != nil {
			return err
		}
	}
	return nil
}

// writeTableTo renders region name, id, call count, total duration, mean
// duration, and status.
func (r *Reporter) writeTableTo(out io.Writer) error {
	w := tabwriter.NewWriter(out, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "REGION\tID\tCALLS\tTOTAL\tMEAN\tSTATUS")
	for _, region := range r.registry.Regions() {
		snap := region.Snapshot()
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.2f\t%s\n",
			snap.Name, snap.ID, snap.CallCount, snap.DurationTotal, snap.MeanDuration, statusOf(snap))
	}
	return w.Flush()
}

// statusOf renders the one-of-four status column value.
func statusOf(snap Snapshot) string {
	switch {
	case snap.OptimizedOut:
		return "compiler-optimized"
	case snap.Inactive:
		return "deleted"
	case snap.Deletable:
		return "deletable"
	default:
		return ""
	}
}

// writeFilterFile writes the names of all inactive or optimized-out
// regions to <experimentDir>/df-filter.list.<pid>, backing up any
// pre-existing file with a .old suffix first.
func (r *Reporter) writeFilterFile(experimentDir string) error {
	path := filepath.Join(experimentDir, fmt.Sprintf("df-filter.list.%d", os.Getpid()))

	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, path+".old"); err != nil {
			return fmt.Errorf("dynfilter: backing up existing filter file: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("dynfilter: creating filter file: %w", err)
	}
	defer f.Close()

	for _, region := range r.registry.Regions() {
		snap := region.Snapshot()
		if snap.Inactive || snap.OptimizedOut {
			if _, err := fmt.Fprintln(f, snap.Name); err != nil {
				return err
			}
		}
	}
	return nil
}
