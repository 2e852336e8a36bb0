package runner

import (
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/signalnine/finetune-harness/internal/result"
)

// hostSnapshot records where a run happened. Lookups that fail leave their
// field empty.
func hostSnapshot() result.Host {
	var h result.Host
	if info, err := host.Info(); err == nil {
		h.Hostname = info.Hostname
		h.Platform = info.Platform + " " + info.PlatformVersion
		h.Kernel = info.KernelVersion
	}
	if n, err := cpu.Counts(true); err == nil {
		h.CPUs = n
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		h.MemoryMB = vm.Total / (1 << 20)
	}
	return h
}
