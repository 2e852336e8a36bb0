package report_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/finetune-harness/internal/report"
	"github.com/signalnine/finetune-harness/internal/result"
)

func bleu(v float64) *float64 { return &v }

// writeRuns lays out two runs of fast and one of slow the way the harness
// does, one scenario dir per run directory.
func writeRuns(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	runs := []struct {
		run  string
		meta *result.RunMeta
	}{
		{"run-1", &result.RunMeta{Scenario: "fast", DurationS: 10, Passed: true, Metrics: result.Metrics{LastBleu: bleu(0.5)}}},
		{"run-2", &result.RunMeta{Scenario: "fast", DurationS: 20, Passed: false}},
		{"run-1", &result.RunMeta{Scenario: "slow", DurationS: 300, Passed: true, Metrics: result.Metrics{LastBleu: bleu(24.25)}}},
	}
	for _, r := range runs {
		dir := result.ScenarioDir(filepath.Join(base, r.run), r.meta.Scenario)
		require.NoError(t, result.WriteRunMeta(dir, r.meta))
	}
	return base
}

func TestGenerateTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, report.Generate(writeRuns(t), "table", &buf))

	out := buf.String()
	assert.Contains(t, out, "SCENARIO")
	assert.Contains(t, out, "fast")
	assert.Contains(t, out, "50%")
	assert.Contains(t, out, "24.250")
}

func TestGenerateMarkdown(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, report.Generate(writeRuns(t), "markdown", &buf))

	g := goldie.New(t)
	g.Assert(t, "summary_markdown", buf.Bytes())
}

func TestGenerateJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, report.Generate(writeRuns(t), "json", &buf))

	var got []report.ScenarioSummary
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 2)

	assert.Equal(t, "fast", got[0].Name)
	assert.Equal(t, 2, got[0].Runs)
	assert.Equal(t, 0.5, got[0].PassRate)
	assert.Equal(t, 15.0, got[0].MeanDurationS)
	require.NotNil(t, got[0].MeanLastBleu)
	assert.Equal(t, 0.5, *got[0].MeanLastBleu, "runs without bleu are left out of the mean")

	assert.Equal(t, "slow", got[1].Name)
	assert.Equal(t, 1.0, got[1].PassRate)
}

func TestGenerateSkipsOutputDirs(t *testing.T) {
	base := writeRuns(t)
	kept := filepath.Join(base, "run-1", "scenarios", "fast", "output-abc")
	require.NoError(t, os.MkdirAll(kept, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(kept, result.MetaFile), []byte(`{"scenario":"bogus"}`), 0o644))

	var buf bytes.Buffer
	require.NoError(t, report.Generate(base, "json", &buf))
	assert.NotContains(t, buf.String(), "bogus")
}

func TestGenerateEmptyRunDir(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, report.Generate(t.TempDir(), "json", &buf))
	assert.Equal(t, "null\n", buf.String())
}

func TestGenerateRejectsUnknownFormat(t *testing.T) {
	err := report.Generate(writeRuns(t), "csv", &bytes.Buffer{})
	assert.ErrorContains(t, err, "csv")
}
