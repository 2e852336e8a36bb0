package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/moby/moby/api/pkg/stdcopy"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/mount"
	"github.com/moby/moby/client"
)

type RunOpts struct {
	Image   string
	Command []string
	WorkDir string
	Env     []string
	Mounts  []Mount
	// GPUs is the number of GPUs requested from the nvidia runtime; -1
	// requests all of them and 0 none.
	GPUs    int
	Timeout time.Duration
	UserID  string
	ShmSize int64
}

type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

type RunResult struct {
	ExitCode int
	TimedOut bool
	Duration time.Duration
	Stdout   []byte
	Stderr   []byte
	// LogErr is set when the container output could not be read in full.
	LogErr error
}

// HostConfig translates opts into the Engine API host configuration.
func HostConfig(opts *RunOpts) *container.HostConfig {
	mounts := make([]mount.Mount, 0, len(opts.Mounts))
	for _, m := range opts.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	initTrue := true
	hostCfg := &container.HostConfig{
		Mounts: mounts,
		Init:   &initTrue,
		// torch.distributed workers share tensors through /dev/shm
		IpcMode: container.IPCModeHost,
	}
	if opts.ShmSize > 0 {
		hostCfg.ShmSize = opts.ShmSize
	}
	if opts.GPUs != 0 {
		hostCfg.DeviceRequests = []container.DeviceRequest{{
			Driver:       "nvidia",
			Count:        opts.GPUs,
			Capabilities: [][]string{{"gpu"}},
		}}
	}
	return hostCfg
}

// RunContainer runs opts.Command to completion in a fresh container and
// returns its exit status and demultiplexed output. A timeout kills the
// container and is reported through RunResult.TimedOut.
func RunContainer(ctx context.Context, opts *RunOpts) (*RunResult, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	defer cli.Close()

	containerCfg := &container.Config{
		Image:      opts.Image,
		Cmd:        opts.Command,
		Env:        opts.Env,
		WorkingDir: opts.WorkDir,
		Labels:     map[string]string{"finetune-harness": "true"},
	}
	if opts.UserID != "" {
		containerCfg.User = opts.UserID
	}

	createResp, err := cli.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config:     containerCfg,
		HostConfig: HostConfig(opts),
	})
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}
	containerID := createResp.ID
	defer func() {
		cli.ContainerRemove(context.Background(), containerID, client.ContainerRemoveOptions{Force: true})
	}()

	start := time.Now()
	if _, err := cli.ContainerStart(ctx, containerID, client.ContainerStartOptions{}); err != nil {
		return nil, fmt.Errorf("starting container: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	waitResult := cli.ContainerWait(timeoutCtx, containerID, client.ContainerWaitOptions{
		Condition: container.WaitConditionNotRunning,
	})
	for {
		select {
		case err := <-waitResult.Error:
			if err != nil {
				cli.ContainerKill(context.Background(), containerID, client.ContainerKillOptions{Signal: "SIGKILL"})
				res := &RunResult{
					ExitCode: 124,
					TimedOut: true,
					Duration: time.Since(start),
				}
				collectLogs(cli, containerID, res)
				return res, nil
			}
		case status := <-waitResult.Result:
			res := &RunResult{
				ExitCode: int(status.StatusCode),
				Duration: time.Since(start),
			}
			collectLogs(cli, containerID, res)
			return res, nil
		}
	}
}

func collectLogs(cli *client.Client, containerID string, res *RunResult) {
	logReader, err := cli.ContainerLogs(context.Background(), containerID, client.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		res.LogErr = fmt.Errorf("fetching container logs: %w", err)
		return
	}
	defer logReader.Close()
	res.Stdout, res.Stderr, res.LogErr = DemuxLogs(logReader)
}

// DemuxLogs splits a multiplexed container log stream. Output read before
// an error is still returned.
func DemuxLogs(r io.Reader) (stdout, stderr []byte, err error) {
	var outBuf, errBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&outBuf, &errBuf, r); err != nil {
		return outBuf.Bytes(), errBuf.Bytes(), fmt.Errorf("demultiplexing container logs: %w", err)
	}
	return outBuf.Bytes(), errBuf.Bytes(), nil
}
