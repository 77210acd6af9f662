package orchestrator

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"

	"github.com/yairfalse/lassie/reconciler"
)

// Report aggregates the results of one run, one entry per
// (account, region, kind) triple in configuration order.
type Report struct {
	StartDate  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	Triples    []reconciler.Result
}

// Slots are written by exactly one pair each, so distinct indexes need no
// locking.
func (r *Report) get(i int) reconciler.Result {
	return r.Triples[i]
}

func (r *Report) set(i int, res reconciler.Result) {
	r.Triples[i] = res
}

// FailedCount returns the number of failed triples.
func (r *Report) FailedCount() int {
	n := 0
	for _, t := range r.Triples {
		if t.Failed() {
			n++
		}
	}
	return n
}

// ExitCode is 1 when any triple failed, 0 otherwise.
func (r *Report) ExitCode() int {
	if r.FailedCount() > 0 {
		return 1
	}
	return 0
}

// Totals counts outcomes by status across all triples.
func (r *Report) Totals() map[reconciler.Status]int {
	totals := make(map[reconciler.Status]int)
	for _, t := range r.Triples {
		for _, o := range t.Outcomes {
			totals[o.Status]++
		}
	}
	return totals
}

type tripleJSON struct {
	reconciler.Result
	Failed bool   `json:"failed"`
	Error  string `json:"error,omitempty"`
}

type reportJSON struct {
	StartDate  string                    `json:"start_date"`
	StartedAt  time.Time                 `json:"started_at"`
	FinishedAt time.Time                 `json:"finished_at"`
	Failed     int                       `json:"failed_triples"`
	Totals     map[reconciler.Status]int `json:"totals"`
	Triples    []tripleJSON              `json:"triples"`
}

// WriteJSON encodes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	out := reportJSON{
		StartDate:  r.StartDate.Format(time.DateOnly),
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Failed:     r.FailedCount(),
		Totals:     r.Totals(),
		Triples:    make([]tripleJSON, len(r.Triples)),
	}
	for i, t := range r.Triples {
		out.Triples[i] = tripleJSON{Result: t, Failed: t.Failed()}
		if t.Err != nil {
			out.Triples[i].Error = t.Err.Error()
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// WriteFile writes the JSON report to path.
func (r *Report) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := r.WriteJSON(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write report: %w", err)
	}
	return f.Close()
}

// Summary prints one line per triple followed by the totals.
func (r *Report) Summary(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tREGION\tKIND\tEVENTS\tTAGGED\tDRY-RUN\tNOT-UNTAGGED\tNOT-FOUND\tFAILED\tERROR")
	for _, t := range r.Triples {
		errText := ""
		if t.Err != nil {
			errText = t.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			t.Account, t.Region, t.Kind, t.Events,
			t.Count(reconciler.StatusTagged),
			t.Count(reconciler.StatusSkippedDryRun),
			t.Count(reconciler.StatusSkippedNotUntagged),
			t.Count(reconciler.StatusSkippedNotFound),
			t.Count(reconciler.StatusFailed),
			errText)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	totals := r.Totals()
	_, err := fmt.Fprintf(w, "\n%d triples, %d failed; tagged %d, dry-run %d, failed resources %d (%s)\n",
		len(r.Triples), r.FailedCount(),
		totals[reconciler.StatusTagged],
		totals[reconciler.StatusSkippedDryRun],
		totals[reconciler.StatusFailed],
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	return err
}
