// Package alerts turns telemetry snapshots into threshold alerts and keeps
// the operator-managed persistent alert book.
package alerts

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vesa/pulseboard/internal/models"
)

// Thresholds, in percent.
const (
	CPUCritical    = 80.0
	CPUWarning     = 65.0
	MemoryCritical = 85.0
)

const (
	sourceSystem     = "System Monitor"
	sourceContainers = "Container Monitor"
)

// derivedNamespace scopes derived alert identifiers so that they never
// collide with randomly generated persistent ones.
var derivedNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("pulseboard.alerts.derived"))

// Rule names feeding DerivedID.
const (
	RuleCPU        = "cpu"
	RuleMemory     = "memory"
	RuleContainers = "stopped-containers"
)

// DerivedID is the stable identifier of a derived alert. The same rule at
// the same severity always maps to the same id.
func DerivedID(rule string, sev models.Severity) string {
	return uuid.NewSHA1(derivedNamespace, []byte(rule+":"+string(sev))).String()
}

// Derive evaluates the threshold rules against one snapshot. It is pure:
// equal inputs give equal output, and only the timestamp label depends on now.
// Alerts come out in CPU, memory, containers order.
func Derive(m models.SystemMetrics, containers []models.ContainerRecord, now time.Time) []models.AlertEntry {
	stamp := now.Format(models.TimestampLayout)
	out := make([]models.AlertEntry, 0, 3)

	switch cpu := m.CPU.UsagePercent; {
	case cpu > CPUCritical:
		out = append(out, derived(RuleCPU, models.SeverityCritical, "Critical CPU Usage",
			fmt.Sprintf("CPU usage at %.1f%% - immediate attention required", cpu), sourceSystem, stamp))
	case cpu > CPUWarning:
		out = append(out, derived(RuleCPU, models.SeverityWarning, "High CPU Usage",
			fmt.Sprintf("CPU usage at %.1f%% - monitor closely", cpu), sourceSystem, stamp))
	}

	if mem := m.Memory.UsagePercent; mem > MemoryCritical {
		out = append(out, derived(RuleMemory, models.SeverityCritical, "Critical Memory Usage",
			fmt.Sprintf("Memory usage at %.1f%% - risk of system instability", mem), sourceSystem, stamp))
	}

	stopped := 0
	for _, c := range containers {
		if c.Status == models.ContainerStopped {
			stopped++
		}
	}
	if stopped > 0 {
		out = append(out, derived(RuleContainers, models.SeverityWarning, "Stopped Containers",
			fmt.Sprintf("%d container(s) are currently stopped", stopped), sourceContainers, stamp))
	}
	return out
}

func derived(rule string, sev models.Severity, title, desc, source, stamp string) models.AlertEntry {
	return models.AlertEntry{
		ID:             DerivedID(rule, sev),
		Severity:       sev,
		Title:          title,
		Description:    desc,
		TimestampLabel: stamp,
		Source:         source,
		Derived:        true,
	}
}
