package report

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/signalnine/finetune-harness/internal/result"
)

type ScenarioSummary struct {
	Name          string   `json:"name"`
	Runs          int      `json:"runs"`
	PassRate      float64  `json:"pass_rate"`
	MeanDurationS float64  `json:"mean_duration_s"`
	MeanLastBleu  *float64 `json:"mean_last_bleu,omitempty"`
}

// Generate reads every meta.json under runDir and writes a per-scenario
// summary in format (table, markdown or json).
func Generate(runDir, format string, w io.Writer) error {
	if _, err := os.Stat(runDir); err != nil {
		return fmt.Errorf("reading run dir: %w", err)
	}
	metas, err := collectMetas(runDir)
	if err != nil {
		return err
	}
	summaries := aggregate(metas)

	switch format {
	case "", "table":
		return writeTable(summaries, w)
	case "markdown":
		return writeMarkdown(summaries, w)
	case "json":
		return writeJSON(summaries, w)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

func collectMetas(runDir string) ([]*result.RunMeta, error) {
	var metas []*result.RunMeta
	err := filepath.WalkDir(runDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		// archived or kept output dirs never hold harness metadata
		if d.IsDir() && strings.HasPrefix(d.Name(), "output-") {
			return filepath.SkipDir
		}
		if d.Name() == result.MetaFile {
			meta, err := result.ReadRunMeta(path)
			if err != nil {
				return nil
			}
			metas = append(metas, meta)
		}
		return nil
	})
	return metas, err
}

func aggregate(metas []*result.RunMeta) []ScenarioSummary {
	type accum struct {
		count    int
		passed   int
		duration float64
		bleu     float64
		bleuN    int
	}
	byScenario := map[string]*accum{}

	for _, m := range metas {
		a, ok := byScenario[m.Scenario]
		if !ok {
			a = &accum{}
			byScenario[m.Scenario] = a
		}
		a.count++
		a.duration += m.DurationS
		if m.Passed {
			a.passed++
		}
		if m.Metrics.LastBleu != nil {
			a.bleu += *m.Metrics.LastBleu
			a.bleuN++
		}
	}

	var summaries []ScenarioSummary
	for name, a := range byScenario {
		s := ScenarioSummary{
			Name:          name,
			Runs:          a.count,
			PassRate:      float64(a.passed) / float64(a.count),
			MeanDurationS: a.duration / float64(a.count),
		}
		if a.bleuN > 0 {
			mean := a.bleu / float64(a.bleuN)
			s.MeanLastBleu = &mean
		}
		summaries = append(summaries, s)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Name < summaries[j].Name
	})
	return summaries
}

func formatBleu(b *float64) string {
	if b == nil {
		return "-"
	}
	return fmt.Sprintf("%.3f", *b)
}

func writeTable(summaries []ScenarioSummary, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCENARIO\tRUNS\tPASS RATE\tMEAN DURATION\tMEAN LAST BLEU")
	fmt.Fprintln(tw, strings.Repeat("-", 70))
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%d\t%.0f%%\t%.1fs\t%s\n",
			s.Name, s.Runs, s.PassRate*100, s.MeanDurationS, formatBleu(s.MeanLastBleu))
	}
	return tw.Flush()
}

func writeMarkdown(summaries []ScenarioSummary, w io.Writer) error {
	fmt.Fprintln(w, "| Scenario | Runs | Pass Rate | Mean Duration | Mean Last BLEU |")
	fmt.Fprintln(w, "|---|---|---|---|---|")
	for _, s := range summaries {
		fmt.Fprintf(w, "| %s | %d | %.0f%% | %.1fs | %s |\n",
			s.Name, s.Runs, s.PassRate*100, s.MeanDurationS, formatBleu(s.MeanLastBleu))
	}
	return nil
}

func writeJSON(summaries []ScenarioSummary, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(summaries)
}
