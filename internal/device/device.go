package device

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Counter reports how many accelerator devices the trainer will see.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// Fixed always reports the same count.
type Fixed int

func (f Fixed) Count(context.Context) (int, error) { return int(f), nil }

// Env reads CUDA_VISIBLE_DEVICES. ok is false when the variable is unset.
type Env struct {
	Lookup func(string) (string, bool)
}

func (e Env) lookup() func(string) (string, bool) {
	if e.Lookup != nil {
		return e.Lookup
	}
	return os.LookupEnv
}

// Visible parses CUDA_VISIBLE_DEVICES.
func (e Env) Visible() (n int, ok bool) {
	v, ok := e.lookup()("CUDA_VISIBLE_DEVICES")
	if !ok {
		return 0, false
	}
	v = strings.TrimSpace(v)
	if v == "" || v == "-1" {
		return 0, true
	}
	for _, id := range strings.Split(v, ",") {
		id = strings.TrimSpace(id)
		// everything after an invalid id is hidden from CUDA
		if id == "" || strings.HasPrefix(id, "-") {
			break
		}
		n++
	}
	return n, true
}

// NvidiaSMI counts GPUs listed by nvidia-smi. A missing binary means no
// devices.
type NvidiaSMI struct {
	Binary string
}

func (s NvidiaSMI) Count(ctx context.Context) (int, error) {
	bin := s.Binary
	if bin == "" {
		bin = "nvidia-smi"
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return 0, nil
	}
	out, err := exec.CommandContext(ctx, path, "--query-gpu=index", "--format=csv,noheader").Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// driver present but no usable device
			return 0, nil
		}
		return 0, fmt.Errorf("running nvidia-smi: %w", err)
	}
	return countLines(out), nil
}

func countLines(out []byte) int {
	n := 0
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) != "" {
			n++
		}
	}
	return n
}

// Auto prefers an explicit override, then CUDA_VISIBLE_DEVICES, then
// nvidia-smi. A CUDA_VISIBLE_DEVICES list longer than the number of
// installed GPUs is capped to what nvidia-smi reports; a zero nvidia-smi
// count is treated as unknown and leaves the env count alone.
type Auto struct {
	Override int
	Env      Env
	SMI      Counter
}

func (a Auto) Count(ctx context.Context) (int, error) {
	if a.Override >= 0 {
		return a.Override, nil
	}
	smi := a.SMI
	if smi == nil {
		smi = NvidiaSMI{}
	}
	n, ok := a.Env.Visible()
	if !ok {
		return smi.Count(ctx)
	}
	if n <= 1 {
		return n, nil
	}
	installed, err := smi.Count(ctx)
	if err != nil {
		return 0, err
	}
	if installed > 0 && installed < n {
		return installed, nil
	}
	return n, nil
}
