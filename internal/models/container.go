package models

// ContainerStatus is the lifecycle state of a container.
type ContainerStatus string

const (
	ContainerRunning ContainerStatus = "running"
	ContainerStopped ContainerStatus = "stopped"
	// ContainerError is entered when an action is interrupted mid-flight and
	// its outcome is unknown. start and restart recover from it.
	ContainerError ContainerStatus = "error"
)

// ContainerAction is an operator-initiated lifecycle action.
type ContainerAction string

const (
	ActionStart   ContainerAction = "start"
	ActionStop    ContainerAction = "stop"
	ActionRestart ContainerAction = "restart"
)

// Known reports whether a is one of start, stop or restart.
func (a ContainerAction) Known() bool {
	switch a {
	case ActionStart, ActionStop, ActionRestart:
		return true
	}
	return false
}

// ContainerRecord is one container tracked by the telemetry store.
// A container that is not running always reports CPUPercent == 0.
type ContainerRecord struct {
	ID           string          `json:"id" yaml:"id"`
	Name         string          `json:"name" yaml:"name"`
	Status       ContainerStatus `json:"status" yaml:"status"`
	CPUPercent   float64         `json:"cpu" yaml:"cpu"`
	MemoryMB     float64         `json:"memory" yaml:"memory"`
	UptimeLabel  string          `json:"uptime" yaml:"uptime"`
	RestartCount int             `json:"restarts" yaml:"restarts"`
	Image        string          `json:"image" yaml:"image"`

	// ActionPending is set in snapshots while an action is in flight.
	ActionPending bool `json:"action_pending" yaml:"-"`
}

// Running reports whether the container is in the running state.
func (c ContainerRecord) Running() bool {
	return c.Status == ContainerRunning
}
