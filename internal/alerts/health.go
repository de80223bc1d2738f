package alerts

import "github.com/vesa/pulseboard/internal/models"

// Level is a coarse health grade for one metric.
type Level string

const (
	LevelOK       Level = "ok"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Band holds the warning and critical thresholds of a metric. A value
// strictly above a threshold enters that grade, or at or above it when
// Inclusive is set.
type Band struct {
	Warning   float64
	Critical  float64
	Inclusive bool
}

// Grade returns the level of v within b.
func (b Band) Grade(v float64) Level {
	above := func(th float64) bool {
		if b.Inclusive {
			return v >= th
		}
		return v > th
	}
	switch {
	case above(b.Critical):
		return LevelCritical
	case above(b.Warning):
		return LevelWarning
	}
	return LevelOK
}

var (
	CPUBand    = Band{Warning: 65, Critical: 80}
	MemoryBand = Band{Warning: 70, Critical: 85}
	DiskBand   = Band{Warning: 75, Critical: 90}
	// UsageBand grades per-container cpu when colouring usage bars.
	UsageBand = Band{Warning: 60, Critical: 80, Inclusive: true}
)

// Health grades the host metrics and each container's cpu.
type Health struct {
	CPU        Level            `json:"cpu"`
	Memory     Level            `json:"memory"`
	Disk       Level            `json:"disk"`
	Containers map[string]Level `json:"containers"`
}

// Grade computes Health for one snapshot. Containers that are not running
// are always ok since they report no cpu.
func Grade(m models.SystemMetrics, containers []models.ContainerRecord) Health {
	h := Health{
		CPU:        CPUBand.Grade(m.CPU.UsagePercent),
		Memory:     MemoryBand.Grade(m.Memory.UsagePercent),
		Disk:       DiskBand.Grade(m.Disk.UsagePercent),
		Containers: make(map[string]Level, len(containers)),
	}
	for _, c := range containers {
		h.Containers[c.ID] = UsageBand.Grade(c.CPUPercent)
	}
	return h
}
