package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	psnet "github.com/shirou/gopsutil/v4/net"

	"github.com/vesa/pulseboard/internal/models"
)

const (
	bytesPerMB = 1 << 20
	bytesPerGB = 1 << 30
	bytesPerTB = 1 << 40

	sampleWindow = 200 * time.Millisecond
)

// HostStats is a one-off reading of the machine the session runs on.
// Zero fields were not available on this platform.
type HostStats struct {
	Cores       int
	CPUPercent  float64
	MemTotal    uint64
	MemUsed     uint64
	MemPercent  float64
	DiskTotal   uint64
	DiskUsed    uint64
	DiskPercent float64
	Load        [3]float64
	Uptime      time.Duration
	NetInMBs    float64
	NetOutMBs   float64
}

// ReadHost samples the local host with gopsutil. It only fails when nothing
// at all could be read.
func ReadHost(ctx context.Context) (HostStats, error) {
	var (
		hs   HostStats
		errs []error
	)

	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		hs.Cores = n
	} else {
		errs = append(errs, err)
	}
	// The CPU sample blocks for sampleWindow; network counters taken on
	// either side of it give the bandwidth over the same window.
	rx0, tx0, netOK := netCounters(ctx)
	start := time.Now()
	if pcts, err := cpu.PercentWithContext(ctx, sampleWindow, false); err == nil && len(pcts) > 0 {
		hs.CPUPercent = pcts[0]
	}
	if rx1, tx1, ok := netCounters(ctx); ok && netOK {
		dt := time.Since(start)
		hs.NetInMBs = byteRate(rx0, rx1, dt) / bytesPerMB
		hs.NetOutMBs = byteRate(tx0, tx1, dt) / bytesPerMB
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		hs.MemTotal = vm.Total
		hs.MemUsed = vm.Used
		hs.MemPercent = vm.UsedPercent
	} else {
		errs = append(errs, err)
	}

	hs.DiskTotal, hs.DiskUsed, hs.DiskPercent = largestPartition(ctx)

	if avg, err := load.AvgWithContext(ctx); err == nil {
		hs.Load = [3]float64{avg.Load1, avg.Load5, avg.Load15}
	}
	if secs, err := host.UptimeWithContext(ctx); err == nil {
		hs.Uptime = time.Duration(secs) * time.Second
	}

	if len(errs) == 2 && hs.DiskTotal == 0 {
		return HostStats{}, errors.Join(errs...)
	}
	return hs, nil
}

// netCounters returns received and sent byte totals across all interfaces.
func netCounters(ctx context.Context) (rx, tx uint64, ok bool) {
	stats, err := psnet.IOCountersWithContext(ctx, false)
	if err != nil || len(stats) == 0 {
		return 0, 0, false
	}
	return stats[0].BytesRecv, stats[0].BytesSent, true
}

// byteRate is bytes per second between two counter readings. A counter that
// went backwards (interface reset) reads as zero.
func byteRate(prev, cur uint64, dt time.Duration) float64 {
	if dt <= 0 || cur < prev {
		return 0
	}
	return float64(cur-prev) / dt.Seconds()
}

// largestPartition reports usage of the biggest mounted partition.
func largestPartition(ctx context.Context) (total, used uint64, pct float64) {
	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return 0, 0, 0
	}
	for _, p := range partitions {
		u, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil {
			continue
		}
		if u.Total > total {
			total, used, pct = u.Total, u.Used, u.UsedPercent
		}
	}
	return total, used, pct
}

// Apply overlays the available host readings onto m. Usage percentages are
// clamped into the random-walk band so ticks start from a reachable value.
func (hs HostStats) Apply(m *models.SystemMetrics) {
	if hs.Cores > 0 {
		m.CPU.CoreCount = hs.Cores
	}
	if hs.CPUPercent > 0 {
		m.CPU.UsagePercent = clamp(hs.CPUPercent, usageLow, usageHigh)
	}
	if hs.MemTotal > 0 {
		m.Memory.TotalGB = float64(hs.MemTotal) / bytesPerGB
		m.Memory.UsagePercent = clamp(hs.MemPercent, usageLow, usageHigh)
		m.Memory.UsedGB = m.Memory.UsagePercent * m.Memory.TotalGB / 100
	}
	if hs.DiskTotal > 0 {
		m.Disk.TotalTB = float64(hs.DiskTotal) / bytesPerTB
		m.Disk.UsedTB = float64(hs.DiskUsed) / bytesPerTB
		m.Disk.UsagePercent = clamp(hs.DiskPercent, 0, 100)
	}
	if hs.Load != [3]float64{} {
		m.LoadAverage = hs.Load
	}
	if hs.Uptime > 0 {
		m.UptimeLabel = FormatUptime(hs.Uptime)
	}
	if hs.NetInMBs > 0 || hs.NetOutMBs > 0 {
		m.Network.InMBs = hs.NetInMBs
		m.Network.OutMBs = hs.NetOutMBs
	}
}
