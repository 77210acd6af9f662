package orchestrator

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/lassie/reconciler"
)

func sampleReport() *Report {
	started := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	return &Report{
		StartDate:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Second),
		Triples: []reconciler.Result{
			{
				Account: "prod", Region: "us-east-1", Kind: "ec2-instance", Events: 2,
				Outcomes: []reconciler.TagOutcome{
					{ResourceID: "i-1", Owner: owner, Status: reconciler.StatusTagged},
					{ResourceID: "i-2", Status: reconciler.StatusSkippedNotFound},
				},
			},
			{
				Account: "prod", Region: "us-east-1", Kind: "glue-job",
				Err: errors.New("unsupported resource kind: \"glue-job\""),
			},
		},
	}
}

func TestReport_ExitCode(t *testing.T) {
	report := sampleReport()
	assert.Equal(t, 1, report.ExitCode())
	assert.Equal(t, 1, report.FailedCount())

	report.Triples = report.Triples[:1]
	assert.Equal(t, 0, report.ExitCode())

	report.Triples[0].Outcomes = append(report.Triples[0].Outcomes,
		reconciler.TagOutcome{ResourceID: "i-3", Status: reconciler.StatusFailed, Reason: "throttled"})
	assert.Equal(t, 1, report.ExitCode())
}

func TestReport_Totals(t *testing.T) {
	totals := sampleReport().Totals()

	assert.Equal(t, 1, totals[reconciler.StatusTagged])
	assert.Equal(t, 1, totals[reconciler.StatusSkippedNotFound])
	assert.Zero(t, totals[reconciler.StatusFailed])
}

func TestReport_WriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleReport().WriteJSON(&buf))

	var decoded struct {
		StartDate string                    `json:"start_date"`
		Failed    int                       `json:"failed_triples"`
		Totals    map[reconciler.Status]int `json:"totals"`
		Triples   []struct {
			Kind     string                  `json:"kind"`
			Failed   bool                    `json:"failed"`
			Error    string                  `json:"error"`
			Outcomes []reconciler.TagOutcome `json:"outcomes"`
		} `json:"triples"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))

	assert.Equal(t, "2024-03-01", decoded.StartDate)
	assert.Equal(t, 1, decoded.Failed)
	assert.Equal(t, 1, decoded.Totals[reconciler.StatusTagged])
	require.Len(t, decoded.Triples, 2)
	assert.False(t, decoded.Triples[0].Failed)
	assert.Empty(t, decoded.Triples[0].Error)
	assert.Len(t, decoded.Triples[0].Outcomes, 2)
	assert.True(t, decoded.Triples[1].Failed)
	assert.Contains(t, decoded.Triples[1].Error, "unsupported resource kind")
}

func TestReport_WriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, sampleReport().WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"resource_id": "i-1"`)

	assert.Error(t, sampleReport().WriteFile(filepath.Join(t.TempDir(), "missing", "report.json")))
}

func TestReport_Summary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleReport().Summary(&buf))

	out := buf.String()
	assert.Contains(t, out, "ACCOUNT")
	assert.Contains(t, out, "ec2-instance")
	assert.Contains(t, out, "unsupported resource kind")
	assert.Contains(t, out, "2 triples, 1 failed; tagged 1, dry-run 0, failed resources 0 (3s)")
}
