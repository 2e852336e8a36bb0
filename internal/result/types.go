package result

import "time"

// RunMeta is persisted as meta.json next to each scenario's output dir.
type RunMeta struct {
	RunID      string    `json:"run_id"`
	Scenario   string    `json:"scenario"`
	Model      string    `json:"model"`
	Launcher   string    `json:"launcher"`
	Devices    int       `json:"devices"`
	StartedAt  time.Time `json:"started_at"`
	DurationS  float64   `json:"duration_s"`
	ExitCode   int       `json:"exit_code"`
	ExitReason string    `json:"exit_reason"`
	Error      string    `json:"error,omitempty"`
	OutputDir  string    `json:"output_dir"`
	OutputKept bool      `json:"output_kept"`
	ArchivedTo []string  `json:"archived_to,omitempty"`
	Metrics    Metrics   `json:"metrics"`
	Checks     []Check   `json:"checks"`
	Passed     bool      `json:"passed"`
	Host       Host      `json:"host"`

	// TrainerRevision is the git commit of the trainer checkout, suffixed
	// with -dirty when it has local changes.
	TrainerRevision string `json:"trainer_revision,omitempty"`
}

type Metrics struct {
	EvalSteps int                `json:"eval_steps"`
	FirstBleu *float64           `json:"first_bleu,omitempty"`
	LastBleu  *float64           `json:"last_bleu,omitempty"`
	Test      map[string]float64 `json:"test,omitempty"`
}

type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

type Host struct {
	Hostname string `json:"hostname,omitempty"`
	Platform string `json:"platform,omitempty"`
	Kernel   string `json:"kernel,omitempty"`
	CPUs     int    `json:"cpus,omitempty"`
	MemoryMB uint64 `json:"memory_mb,omitempty"`
}
