package trainer

import (
	"strconv"

	"github.com/signalnine/finetune-harness/internal/config"
)

// Invocation is everything needed to build one trainer command line.
type Invocation struct {
	ModelName      string
	DataDir        string
	OutputDir      string
	EvalSteps      int
	MaxLen         string
	NumTrainEpochs int
	Hyper          config.Hyperparameters
}

// NewInvocation combines a scenario with the shared hyperparameters.
func NewInvocation(sc *config.Scenario, hp config.Hyperparameters, dataDir, outputDir string) Invocation {
	return Invocation{
		ModelName:      sc.ModelName,
		DataDir:        dataDir,
		OutputDir:      outputDir,
		EvalSteps:      sc.EvalSteps,
		MaxLen:         sc.MaxLen,
		NumTrainEpochs: sc.NumTrainEpochs,
		Hyper:          hp,
	}
}

// BuildArgs returns the trainer flags for inv. The order is fixed so that
// identical invocations always produce identical command lines.
func BuildArgs(inv Invocation) []string {
	hp := inv.Hyper
	evalSteps := strconv.Itoa(inv.EvalSteps)

	args := []string{
		"--model_name_or_path", inv.ModelName,
		"--data_dir", inv.DataDir,
		"--output_dir", inv.OutputDir,
		"--overwrite_output_dir",
		"--n_train", strconv.Itoa(hp.NTrain),
		"--n_val", strconv.Itoa(hp.NVal),
		"--max_source_length", inv.MaxLen,
		"--max_target_length", inv.MaxLen,
		"--val_max_target_length", inv.MaxLen,
		"--do_train",
		"--do_eval",
		"--do_predict",
		"--num_train_epochs", strconv.Itoa(inv.NumTrainEpochs),
		"--per_device_train_batch_size", strconv.Itoa(hp.TrainBatchSize),
		"--per_device_eval_batch_size", strconv.Itoa(hp.EvalBatchSize),
		"--learning_rate", hp.LearningRate,
		"--warmup_steps", strconv.Itoa(hp.WarmupSteps),
		"--evaluate_during_training",
		"--predict_with_generate",
		"--logging_steps", strconv.Itoa(hp.LoggingSteps),
		"--save_steps", evalSteps,
		"--eval_steps", evalSteps,
	}
	if hp.SortishSampler {
		args = append(args, "--sortish_sampler")
	}
	args = append(args, "--label_smoothing", hp.LabelSmoothing)
	if hp.Adafactor {
		args = append(args, "--adafactor")
	}
	args = append(args,
		"--task", hp.Task,
		"--tgt_lang", hp.TgtLang,
		"--src_lang", hp.SrcLang,
	)
	if hp.EvalBeams > 0 {
		args = append(args, "--eval_beams", strconv.Itoa(hp.EvalBeams))
	}
	return args
}
