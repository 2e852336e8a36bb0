package result

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	MetaFile     = "meta.json"
	idAlphabet   = "0123456789abcdefghijklmnopqrstuvwxyz"
	outputPrefix = "output-"
)

// CreateRunDir makes a fresh run directory under baseDir/runs and points
// baseDir/latest at it.
func CreateRunDir(baseDir string) (string, error) {
	suffix, err := gonanoid.Generate(idAlphabet, 6)
	if err != nil {
		return "", fmt.Errorf("generating run suffix: %w", err)
	}
	stamp := time.Now().UTC().Format("2006-01-02T15-04-05")
	runDir, err := filepath.Abs(filepath.Join(baseDir, "runs", stamp+"-"+suffix))
	if err != nil {
		return "", fmt.Errorf("resolving run dir: %w", err)
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("creating run dir: %w", err)
	}
	latest := filepath.Join(baseDir, "latest")
	os.Remove(latest)
	if err := os.Symlink(runDir, latest); err != nil {
		return "", fmt.Errorf("creating latest symlink: %w", err)
	}
	return runDir, nil
}

func ScenarioDir(runDir, scenario string) string {
	return filepath.Join(runDir, "scenarios", scenario)
}

// AllocateOutputDir creates a new, empty output directory under parent.
// Each call returns a path no earlier call has returned.
func AllocateOutputDir(parent string) (string, error) {
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", parent, err)
	}
	for range 5 {
		id, err := gonanoid.Generate(idAlphabet, 10)
		if err != nil {
			return "", fmt.Errorf("generating output dir id: %w", err)
		}
		dir := filepath.Join(parent, outputPrefix+id)
		err = os.Mkdir(dir, 0o755)
		if err == nil {
			return dir, nil
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("creating output dir: %w", err)
		}
	}
	return "", fmt.Errorf("could not allocate a unique output dir under %s", parent)
}

func WriteRunMeta(dir string, meta *RunMeta) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating meta dir: %w", err)
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling meta: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, MetaFile), data, 0o644)
}

func ReadRunMeta(path string) (*RunMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading meta: %w", err)
	}
	var meta RunMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parsing meta: %w", err)
	}
	return &meta, nil
}
