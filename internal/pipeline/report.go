package pipeline

import (
	"fmt"
	"strings"
	"time"
)

// Report summarises one job run.
type Report struct {
	Job  string
	Kind string

	Loaded  int // records read from the source
	Dropped int // legacy records removed by the fixer
	Records int // records in the target after the run

	Windows   int // chunk passes executed
	Changed   int // records enriched by this run
	Fallbacks int // enriched records flagged with errors
	Truncated int // records beyond the last window (fixed window count only)

	Uploaded  string // remote location written, if any
	Warehouse int    // rows upserted into Postgres

	Elapsed time.Duration
	Err     error
}

// Summary renders the report as a short multi-line message.
func (r Report) Summary() string {
	var b strings.Builder
	status := "ok"
	if r.Err != nil {
		status = "FAILED"
	}
	fmt.Fprintf(&b, "micro-dwh %s job %q: %s (%s)\n", r.Kind, r.Job, status, r.Elapsed.Round(time.Second))
	fmt.Fprintf(&b, "records: %d loaded, %d in target", r.Loaded, r.Records)
	if r.Dropped > 0 {
		fmt.Fprintf(&b, ", %d dropped", r.Dropped)
	}
	b.WriteString("\n")
	if r.Windows > 0 {
		fmt.Fprintf(&b, "enriched: %d in %d windows, %d with fallbacks\n", r.Changed, r.Windows, r.Fallbacks)
	}
	if r.Truncated > 0 {
		fmt.Fprintf(&b, "not enriched (beyond last window): %d\n", r.Truncated)
	}
	if r.Uploaded != "" {
		fmt.Fprintf(&b, "uploaded: %s\n", r.Uploaded)
	}
	if r.Warehouse > 0 {
		fmt.Fprintf(&b, "warehouse rows: %d\n", r.Warehouse)
	}
	if r.Err != nil {
		fmt.Fprintf(&b, "error: %v\n", r.Err)
	}
	return strings.TrimRight(b.String(), "\n")
}
