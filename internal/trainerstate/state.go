// Package trainerstate reads the JSON files the trainer leaves in its
// output directory.
package trainerstate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

const (
	StateFile       = "trainer_state.json"
	GenerationsFile = "test_generations.txt"
	ResultsFile     = "test_results.json"
)

// State mirrors the trainer's persisted TrainerState.
type State struct {
	LogHistory          []LogEntry `json:"log_history"`
	GlobalStep          int        `json:"global_step"`
	Epoch               float64    `json:"epoch"`
	MaxSteps            int        `json:"max_steps"`
	NumTrainEpochs      int        `json:"num_train_epochs"`
	BestMetric          any        `json:"best_metric"` // json.Number, "NaN" or nil
	BestModelCheckpoint *string    `json:"best_model_checkpoint"`
}

// LogEntry is one log_history record. Numbers are kept as json.Number so
// their literal form survives decoding.
type LogEntry map[string]any

// nonFinite are the bare tokens Python's json module writes for float
// values JSON cannot represent.
var nonFinite = []string{"NaN", "Infinity", "-Infinity"}

// quoteNonFinite rewrites bare NaN and Infinity tokens outside string
// literals into JSON strings so the document parses.
func quoteNonFinite(data []byte) []byte {
	if !bytes.Contains(data, []byte("NaN")) && !bytes.Contains(data, []byte("Infinity")) {
		return data
	}
	out := make([]byte, 0, len(data)+16)
	inString, escaped := false, false
	for i := 0; i < len(data); i++ {
		c := data[i]
		if inString {
			out = append(out, c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			out = append(out, c)
			continue
		}
		matched := false
		for _, tok := range nonFinite {
			if bytes.HasPrefix(data[i:], []byte(tok)) {
				out = append(out, '"')
				out = append(out, tok...)
				out = append(out, '"')
				i += len(tok) - 1
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, c)
		}
	}
	return out
}

func isNonFinite(s string) bool {
	for _, tok := range nonFinite {
		if s == tok {
			return true
		}
	}
	return false
}

func decode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(quoteNonFinite(data)))
	dec.UseNumber()
	return dec.Decode(v)
}

// Load reads a trainer_state.json file.
func Load(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading trainer state: %w", err)
	}
	var st State
	if err := decode(data, &st); err != nil {
		return nil, fmt.Errorf("parsing trainer state %s: %w", path, err)
	}
	return &st, nil
}

// EvalMetrics returns the log entries written by an evaluation pass, in
// log order.
func (s *State) EvalMetrics() []LogEntry {
	var out []LogEntry
	for _, e := range s.LogHistory {
		if e.Has("eval_loss") {
			out = append(out, e)
		}
	}
	return out
}

func (e LogEntry) Has(key string) bool {
	_, ok := e[key]
	return ok
}

// Float returns key as a float64 when it holds a number, including the
// NaN and Infinity values Python writes.
func (e LogEntry) Float(key string) (float64, bool) {
	switch v := e[key].(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	case string:
		if !isNonFinite(v) {
			return 0, false
		}
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// IsFloat reports whether key was written as a floating-point literal.
func (e LogEntry) IsFloat(key string) bool {
	switch v := e[key].(type) {
	case json.Number:
		return strings.ContainsAny(string(v), ".eE")
	case float64:
		return true
	case string:
		return isNonFinite(v)
	default:
		return false
	}
}

// LoadResults reads test_results.json into metric name -> value. Non-numeric
// and non-finite values are dropped.
func LoadResults(path string) (map[string]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading test results: %w", err)
	}
	var raw LogEntry
	if err := decode(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing test results %s: %w", path, err)
	}
	out := make(map[string]float64, len(raw))
	for k := range raw {
		if f, ok := raw.Float(k); ok && !math.IsNaN(f) && !math.IsInf(f, 0) {
			out[k] = f
		}
	}
	return out, nil
}
