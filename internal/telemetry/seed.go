package telemetry

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vesa/pulseboard/internal/models"
)

//go:embed seed.yaml
var defaultSeed []byte

// Seed is the fixed starting state of a session: host metrics, the container
// set, the persistent alerts and the log lines shown before any user
// interaction.
type Seed struct {
	Metrics    models.SystemMetrics     `yaml:"metrics"`
	Containers []models.ContainerRecord `yaml:"containers"`
	Alerts     []models.Alert           `yaml:"alerts"`
	Logs       []models.LogEntry        `yaml:"logs"`
}

// DefaultSeed returns the embedded reference seed.
func DefaultSeed() Seed {
	s, err := ParseSeed(defaultSeed)
	if err != nil {
		panic("telemetry: embedded seed: " + err.Error())
	}
	return s
}

// LoadSeed reads a seed file. An empty path yields the embedded seed.
func LoadSeed(path string) (Seed, error) {
	if path == "" {
		return DefaultSeed(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("reading seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes and validates a YAML seed.
func ParseSeed(data []byte) (Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Seed{}, fmt.Errorf("decoding seed: %w", err)
	}
	if err := s.validate(); err != nil {
		return Seed{}, err
	}
	return s, nil
}

func (s *Seed) validate() error {
	seen := make(map[string]bool, len(s.Containers))
	for i := range s.Containers {
		c := &s.Containers[i]
		if c.ID == "" {
			return fmt.Errorf("%w: container #%d has no id", models.ErrInvalidArgument, i)
		}
		if seen[c.ID] {
			return fmt.Errorf("%w: duplicate container id %q", models.ErrInvalidArgument, c.ID)
		}
		seen[c.ID] = true
		switch c.Status {
		case models.ContainerRunning:
		case models.ContainerStopped, models.ContainerError:
			c.CPUPercent = 0
		case "":
			c.Status = models.ContainerStopped
			c.CPUPercent = 0
		default:
			return fmt.Errorf("%w: container %q has status %q", models.ErrInvalidArgument, c.ID, c.Status)
		}
		if c.Name == "" {
			c.Name = c.ID
		}
	}
	for i, a := range s.Alerts {
		if !a.Severity.Valid() {
			return fmt.Errorf("%w: alert #%d has severity %q", models.ErrInvalidArgument, i, a.Severity)
		}
	}
	for i := range s.Logs {
		l := &s.Logs[i]
		if !seen[l.ContainerID] {
			return fmt.Errorf("%w: log #%d names unknown container %q", models.ErrInvalidArgument, i, l.ContainerID)
		}
		lv, ok := models.ParseLogLevel(string(l.Level))
		if !ok || lv == "" {
			return fmt.Errorf("%w: log #%d has level %q", models.ErrInvalidArgument, i, l.Level)
		}
		l.Level = lv
	}
	m := &s.Metrics
	m.CPU.UsagePercent = clamp(m.CPU.UsagePercent, 0, 100)
	m.Memory.UsagePercent = clamp(m.Memory.UsagePercent, 0, 100)
	m.Disk.UsagePercent = clamp(m.Disk.UsagePercent, 0, 100)
	return nil
}
