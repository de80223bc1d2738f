// Package models defines the data types shared across PulseBoard.
package models

// SystemMetrics is a point-in-time view of the host.
// Every UsagePercent field stays within [0, 100].
type SystemMetrics struct {
	CPU     CPUMetrics     `json:"cpu" yaml:"cpu"`
	Memory  MemoryMetrics  `json:"memory" yaml:"memory"`
	Disk    DiskMetrics    `json:"disk" yaml:"disk"`
	Network NetworkMetrics `json:"network" yaml:"network"`

	UptimeLabel string     `json:"uptime" yaml:"uptime"`
	LoadAverage [3]float64 `json:"load" yaml:"load"` // 1, 5, 15 minute
}

// ── Compute ──────────────────────────────────────────────────────────────────

type CPUMetrics struct {
	UsagePercent float64 `json:"usage" yaml:"usage"`
	CoreCount    int     `json:"cores" yaml:"cores"`
	TemperatureC float64 `json:"temperature" yaml:"temperature"`
}

type MemoryMetrics struct {
	UsedGB       float64 `json:"used" yaml:"used"`
	TotalGB      float64 `json:"total" yaml:"total"`
	UsagePercent float64 `json:"usage" yaml:"usage"`
}

type DiskMetrics struct {
	UsedTB       float64 `json:"used" yaml:"used"`
	TotalTB      float64 `json:"total" yaml:"total"`
	UsagePercent float64 `json:"usage" yaml:"usage"`
}

// ── Network bandwidth (MB/s) ─────────────────────────────────────────────────

type NetworkMetrics struct {
	InMBs  float64 `json:"in" yaml:"in"`
	OutMBs float64 `json:"out" yaml:"out"`
}
