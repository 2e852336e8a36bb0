package validation

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/signalnine/finetune-harness/internal/result"
	"github.com/signalnine/finetune-harness/internal/trainerstate"
)

const bleuKey = "eval_bleu"

// Input is what a check may inspect after a run.
type Input struct {
	OutputDir string
	State     *trainerstate.State
	StateErr  error
}

// Checker evaluates one property of a finished run.
type Checker func(in *Input) result.Check

var checkers = map[string]Checker{
	"state_log":            checkStateLog,
	"eval_has_bleu":        checkEvalHasBleu,
	"bleu_improves":        checkBleuImproves,
	"bleu_is_float":        checkBleuIsFloat,
	"prediction_artifacts": checkPredictionArtifacts,
}

// Names lists the registered checks.
func Names() []string {
	names := make([]string, 0, len(checkers))
	for n := range checkers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Known returns an error naming the first unregistered check.
func Known(names []string) error {
	for _, n := range names {
		if _, ok := checkers[n]; !ok {
			return fmt.Errorf("unknown check %q", n)
		}
	}
	return nil
}

// NewInput loads the trainer state from outputDir. A missing or unreadable
// state is recorded rather than returned so checks can report it.
func NewInput(outputDir string) *Input {
	in := &Input{OutputDir: outputDir}
	in.State, in.StateErr = trainerstate.Load(filepath.Join(outputDir, trainerstate.StateFile))
	return in
}

// Run evaluates the named checks in order.
func Run(names []string, in *Input) ([]result.Check, error) {
	if err := Known(names); err != nil {
		return nil, err
	}
	out := make([]result.Check, 0, len(names))
	for _, n := range names {
		c := checkers[n](in)
		c.Name = n
		out = append(out, c)
	}
	return out, nil
}

// AllPassed reports whether every check passed. No checks counts as passed.
func AllPassed(checks []result.Check) bool {
	for _, c := range checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

func pass(detail string, args ...any) result.Check {
	return result.Check{Passed: true, Detail: fmt.Sprintf(detail, args...)}
}

func fail(detail string, args ...any) result.Check {
	return result.Check{Passed: false, Detail: fmt.Sprintf(detail, args...)}
}

// evalMetrics returns the eval entries or a failed check explaining why
// there are none.
func evalMetrics(in *Input) ([]trainerstate.LogEntry, *result.Check) {
	if in.StateErr != nil {
		c := fail("%v", in.StateErr)
		return nil, &c
	}
	evals := in.State.EvalMetrics()
	if len(evals) == 0 {
		c := fail("no log entry contains eval_loss")
		return nil, &c
	}
	return evals, nil
}

func checkStateLog(in *Input) result.Check {
	if in.StateErr != nil {
		return fail("%v", in.StateErr)
	}
	if len(in.State.LogHistory) == 0 {
		return fail("log_history is empty")
	}
	return pass("%d log entries, global step %d", len(in.State.LogHistory), in.State.GlobalStep)
}

func checkEvalHasBleu(in *Input) result.Check {
	evals, failed := evalMetrics(in)
	if failed != nil {
		return *failed
	}
	if !evals[0].Has(bleuKey) {
		return fail("first eval entry has no %s", bleuKey)
	}
	return pass("first eval entry has %s", bleuKey)
}

func checkBleuImproves(in *Input) result.Check {
	evals, failed := evalMetrics(in)
	if failed != nil {
		return *failed
	}
	first, ok := evals[0].Float(bleuKey)
	if !ok {
		return fail("first eval entry has no numeric %s", bleuKey)
	}
	last, ok := evals[len(evals)-1].Float(bleuKey)
	if !ok {
		return fail("last eval entry has no numeric %s", bleuKey)
	}
	if !(first < last) {
		return fail("model learned nothing: %s %.4f -> %.4f", bleuKey, first, last)
	}
	return pass("%s %.4f -> %.4f", bleuKey, first, last)
}

func checkBleuIsFloat(in *Input) result.Check {
	evals, failed := evalMetrics(in)
	if failed != nil {
		return *failed
	}
	last := evals[len(evals)-1]
	if !last.IsFloat(bleuKey) {
		return fail("last %s is %v, want a float", bleuKey, last[bleuKey])
	}
	return pass("last %s is %v", bleuKey, last[bleuKey])
}

func checkPredictionArtifacts(in *Input) result.Check {
	var missing []string
	for _, name := range []string{trainerstate.GenerationsFile, trainerstate.ResultsFile} {
		if _, err := os.Stat(filepath.Join(in.OutputDir, name)); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fail("missing %v", missing)
	}
	return pass("%s and %s present", trainerstate.GenerationsFile, trainerstate.ResultsFile)
}
