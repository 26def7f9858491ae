package systeminfo

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// Info describes the host a report was produced on.
type Info struct {
	Hostname        string `json:"hostname"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platform_version"`
	KernelVersion   string `json:"kernel_version,omitempty"`
	Arch            string `json:"arch"`
	CPUCount        int    `json:"cpu_count"`
	TotalMemory     uint64 `json:"total_memory"`
	Volume          string `json:"volume"`
	DiskTotal       uint64 `json:"disk_total"`
	DiskFree        uint64 `json:"disk_free"`
}

// Collect gathers host and root-volume details. Memory information is
// best effort and left zero if unavailable.
func Collect(ctx context.Context) (*Info, error) {
	hostInfo, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("collect host info: %v", err)
	}
	usage, err := disk.UsageWithContext(ctx, "/")
	if err != nil {
		return nil, fmt.Errorf("collect volume usage: %v", err)
	}

	info := &Info{
		Hostname:        hostInfo.Hostname,
		Platform:        hostInfo.Platform,
		PlatformVersion: hostInfo.PlatformVersion,
		KernelVersion:   hostInfo.KernelVersion,
		Arch:            runtime.GOARCH,
		CPUCount:        runtime.NumCPU(),
		Volume:          "/",
		DiskTotal:       usage.Total,
		DiskFree:        usage.Free,
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.TotalMemory = vm.Total
	}
	return info, nil
}
