package telemetry

import (
	"testing"
	"time"
)

func TestHostStatsApply(t *testing.T) {
	m := DefaultSeed().Metrics
	hs := HostStats{
		Cores:       16,
		MemTotal:    64 << 30,
		MemPercent:  97,
		DiskTotal:   4 << 40,
		DiskUsed:    1 << 40,
		DiskPercent: 25,
		Load:        [3]float64{0.5, 0.4, 0.3},
		Uptime:      26 * time.Hour,
		NetInMBs:    3.5,
	}
	hs.Apply(&m)

	if m.CPU.CoreCount != 16 {
		t.Fatalf("cores = %d", m.CPU.CoreCount)
	}
	if m.CPU.UsagePercent != 67 {
		t.Fatalf("cpu usage overwritten by missing reading: %v", m.CPU.UsagePercent)
	}
	if m.Memory.TotalGB != 64 || m.Memory.UsagePercent != usageHigh || m.Memory.UsedGB != 57.6 {
		t.Fatalf("unexpected memory: %+v", m.Memory)
	}
	if m.Disk.TotalTB != 4 || m.Disk.UsedTB != 1 || m.Disk.UsagePercent != 25 {
		t.Fatalf("unexpected disk: %+v", m.Disk)
	}
	if m.LoadAverage != [3]float64{0.5, 0.4, 0.3} || m.UptimeLabel != "1d 2h 0m" {
		t.Fatalf("unexpected load/uptime: %v %q", m.LoadAverage, m.UptimeLabel)
	}
	if m.Network.InMBs != 3.5 || m.Network.OutMBs != 0 {
		t.Fatalf("unexpected network: %+v", m.Network)
	}
}

func TestByteRate(t *testing.T) {
	cases := []struct {
		name      string
		prev, cur uint64
		dt        time.Duration
		want      float64
	}{
		{"steady", 1000, 3000, 2 * time.Second, 1000},
		{"idle", 500, 500, time.Second, 0},
		{"counter reset", 9000, 100, time.Second, 0},
		{"no elapsed time", 0, 100, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := byteRate(tc.prev, tc.cur, tc.dt); got != tc.want {
				t.Fatalf("byteRate(%d, %d, %v) = %v, want %v", tc.prev, tc.cur, tc.dt, got, tc.want)
			}
		})
	}
}

func TestHostStatsApplyEmptyKeepsSeed(t *testing.T) {
	want := DefaultSeed().Metrics
	got := want
	HostStats{}.Apply(&got)
	if got != want {
		t.Fatalf("empty host stats changed metrics:\n got %+v\nwant %+v", got, want)
	}
}
