package status

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot is the host resource view pushed to clients so the UI can show
// ram/disk headroom next to the model.
type Snapshot struct {
	Hostname  string  `json:"hostname"`
	OS        string  `json:"os"`
	Arch      string  `json:"arch"`
	CPUUsage  float64 `json:"cpu_usage_percent"`
	MemTotal  uint64  `json:"ram_total"`
	MemUsed   uint64  `json:"ram_used"`
	MemUsage  float64 `json:"ram_usage_percent"`
	DiskTotal uint64  `json:"disk_total"`
	DiskUsed  uint64  `json:"disk_used"`
	DiskFree  uint64  `json:"disk_free"`
}

// Collect samples cpu, memory and disk. The cpu sample blocks for the given
// interval; pass 0 for an instantaneous (less accurate) reading.
func Collect(sampleInterval time.Duration) Snapshot {
	hostname, _ := os.Hostname()

	cpuUsage := 0.0
	if percents, err := cpu.Percent(sampleInterval, false); err == nil && len(percents) > 0 {
		cpuUsage = percents[0]
	}

	snap := Snapshot{
		Hostname: hostname,
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
		CPUUsage: cpuUsage,
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		snap.MemTotal = memInfo.Total
		snap.MemUsed = memInfo.Used
		snap.MemUsage = memInfo.UsedPercent
	}
	if diskInfo, err := disk.Usage("/"); err == nil {
		snap.DiskTotal = diskInfo.Total
		snap.DiskUsed = diskInfo.Used
		snap.DiskFree = diskInfo.Free
	}

	return snap
}
