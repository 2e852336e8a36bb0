package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultTimeout = 180 * time.Second
	DefaultDataDir = "examples/seq2seq/test_data/wmt_en_ro"
	DefaultScript  = "examples/seq2seq/finetune_trainer.py"

	MBartTiny    = "sshleifer/tiny-mbart"
	MarianEnRoSm = "sshleifer/student_marian_en_ro_6_1"
)

type Config struct {
	Trainer         Trainer         `yaml:"trainer"`
	Launch          Launch          `yaml:"launch"`
	Hyperparameters Hyperparameters `yaml:"hyperparameters"`
	Scenarios       []Scenario      `yaml:"scenarios"`
	Results         Results         `yaml:"results"`
	Archive         Archive         `yaml:"archive"`
	Metrics         Metrics         `yaml:"metrics"`
	Logging         Logging         `yaml:"logging"`
}

// Trainer describes where the external fine-tuning script lives and how to
// invoke it.
type Trainer struct {
	Python     string   `yaml:"python"`
	Script     string   `yaml:"script"`
	DataDir    string   `yaml:"data_dir"`
	PythonPath []string `yaml:"python_path"`
	Image      string   `yaml:"image"`
}

type Launch struct {
	// Mode is one of auto, inprocess, distributed, container.
	Mode    string        `yaml:"mode"`
	Timeout time.Duration `yaml:"timeout"`
	// Devices overrides device detection when >= 0.
	Devices int  `yaml:"devices"`
	Quiet   bool `yaml:"quiet"`
}

type Hyperparameters struct {
	NTrain         int    `yaml:"n_train"`
	NVal           int    `yaml:"n_val"`
	TrainBatchSize int    `yaml:"per_device_train_batch_size"`
	EvalBatchSize  int    `yaml:"per_device_eval_batch_size"`
	LearningRate   string `yaml:"learning_rate"`
	WarmupSteps    int    `yaml:"warmup_steps"`
	LoggingSteps   int    `yaml:"logging_steps"`
	LabelSmoothing string `yaml:"label_smoothing"`
	Adafactor      bool   `yaml:"adafactor"`
	SortishSampler bool   `yaml:"sortish_sampler"`
	EvalBeams      int    `yaml:"eval_beams"`
	Task           string `yaml:"task"`
	TgtLang        string `yaml:"tgt_lang"`
	SrcLang        string `yaml:"src_lang"`
}

type Scenario struct {
	Name           string   `yaml:"name"`
	EvalSteps      int      `yaml:"eval_steps"`
	MaxLen         string   `yaml:"max_len"`
	ModelName      string   `yaml:"model_name"`
	NumTrainEpochs int      `yaml:"num_train_epochs"`
	Slow           bool     `yaml:"slow"`
	Checks         []string `yaml:"checks"`
}

type Results struct {
	Dir         string `yaml:"dir"`
	KeepOutputs bool   `yaml:"keep_outputs"`
}

// Archive copies output artifacts somewhere durable before the output
// directory is removed. Dir and S3 are independent; either may be empty.
type Archive struct {
	Dir string `yaml:"dir"`
	S3  S3     `yaml:"s3"`
}

type S3 struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type Metrics struct {
	Textfile string `yaml:"textfile"`
}

type Logging struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
	Output   string `yaml:"output"`
}

// DefaultHyperparameters returns the fixed hyperparameters the seq2seq
// trainer tests run with.
func DefaultHyperparameters() Hyperparameters {
	return Hyperparameters{
		NTrain:         8,
		NVal:           8,
		TrainBatchSize: 4,
		EvalBatchSize:  4,
		LearningRate:   "3e-4",
		WarmupSteps:    8,
		LoggingSteps:   0,
		LabelSmoothing: "0.1",
		Adafactor:      true,
		SortishSampler: true,
		Task:           "translation",
		TgtLang:        "ro_RO",
		SrcLang:        "en_XX",
	}
}

// DefaultScenarios returns the fast smoke scenario and the gated slow
// convergence scenario.
func DefaultScenarios() []Scenario {
	return []Scenario{
		{
			Name:           "fast",
			EvalSteps:      1,
			MaxLen:         "12",
			ModelName:      MBartTiny,
			NumTrainEpochs: 1,
			Checks:         []string{"state_log", "eval_has_bleu"},
		},
		{
			Name:           "slow",
			EvalSteps:      2,
			MaxLen:         "128",
			ModelName:      MarianEnRoSm,
			NumTrainEpochs: 10,
			Slow:           true,
			Checks:         []string{"state_log", "bleu_improves", "bleu_is_float", "prediction_artifacts"},
		},
	}
}

func DefaultConfig() *Config {
	return &Config{
		Trainer: Trainer{
			Python:     "python3",
			Script:     DefaultScript,
			DataDir:    DefaultDataDir,
			PythonPath: []string{"examples", "src"},
		},
		Launch: Launch{
			Mode:    "auto",
			Timeout: DefaultTimeout,
			Devices: -1,
		},
		Hyperparameters: DefaultHyperparameters(),
		Scenarios:       DefaultScenarios(),
		Results:         Results{Dir: "results"},
		Logging:         Logging{Level: "info", Encoding: "console", Output: "stderr"},
	}
}

// Load reads the config at path over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Scenario returns the scenario with the given name.
func (c *Config) Scenario(name string) (*Scenario, bool) {
	for i := range c.Scenarios {
		if c.Scenarios[i].Name == name {
			return &c.Scenarios[i], true
		}
	}
	return nil, false
}

func validate(cfg *Config) error {
	if cfg.Trainer.Script == "" {
		return fmt.Errorf("trainer.script is required")
	}
	if cfg.Trainer.Python == "" {
		cfg.Trainer.Python = "python3"
	}
	if cfg.Trainer.DataDir == "" {
		cfg.Trainer.DataDir = DefaultDataDir
	}
	switch cfg.Launch.Mode {
	case "":
		cfg.Launch.Mode = "auto"
	case "auto", "inprocess", "distributed":
	case "container":
		if cfg.Trainer.Image == "" {
			return fmt.Errorf("launch mode container requires trainer.image")
		}
	default:
		return fmt.Errorf("unknown launch mode %q", cfg.Launch.Mode)
	}
	if cfg.Launch.Timeout <= 0 {
		cfg.Launch.Timeout = DefaultTimeout
	}
	if len(cfg.Scenarios) == 0 {
		return fmt.Errorf("no scenarios defined")
	}
	seen := make(map[string]bool)
	for i := range cfg.Scenarios {
		s := &cfg.Scenarios[i]
		if s.Name == "" {
			return fmt.Errorf("scenario %d: name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("scenario %q defined twice", s.Name)
		}
		seen[s.Name] = true
		if s.ModelName == "" {
			return fmt.Errorf("scenario %q: model_name is required", s.Name)
		}
		if s.EvalSteps < 1 {
			return fmt.Errorf("scenario %q: eval_steps must be at least 1", s.Name)
		}
		if s.NumTrainEpochs < 1 {
			return fmt.Errorf("scenario %q: num_train_epochs must be at least 1", s.Name)
		}
		if s.MaxLen == "" {
			return fmt.Errorf("scenario %q: max_len is required", s.Name)
		}
		if len(s.Checks) == 0 {
			s.Checks = []string{"state_log"}
		}
	}
	if cfg.Results.Dir == "" {
		cfg.Results.Dir = "results"
	}
	if cfg.Archive.S3.Bucket != "" && cfg.Archive.S3.Region == "" {
		cfg.Archive.S3.Region = "us-east-1"
	}
	return nil
}
