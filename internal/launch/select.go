package launch

import "fmt"

const (
	ModeAuto        = "auto"
	ModeInProcess   = "inprocess"
	ModeDistributed = "distributed"
	ModeContainer   = "container"
)

// Select returns single for one device or fewer and multi(devices) for more,
// unless mode forces a strategy.
func Select(mode string, devices int, single Launcher, multi func(nproc int) Launcher) (Launcher, error) {
	switch mode {
	case "", ModeAuto:
		if devices > 1 {
			return multi(devices), nil
		}
		return single, nil
	case ModeInProcess:
		return single, nil
	case ModeDistributed, ModeContainer:
		if devices < 1 {
			devices = 1
		}
		return multi(devices), nil
	default:
		return nil, fmt.Errorf("unknown launch mode %q", mode)
	}
}
