package logbuf

import (
	"github.com/vesa/pulseboard/internal/models"
)

// levelWeights holds three info draws for every warn and error draw.
var levelWeights = []models.LogLevel{
	models.LogInfo, models.LogInfo, models.LogInfo,
	models.LogWarn,
	models.LogError,
}

var messageTemplates = []string{
	"Request processed successfully",
	"Cache hit for user session",
	"Database query executed in 45ms",
	"Memory usage: 72%",
	"Connection pool status: 8/10 active",
	"Scheduled task completed",
	"Health check passed",
	"Background job started",
}

// Picker draws uniform integers in [0, n).
type Picker interface {
	IntN(n int) int
}

// Generator synthesises the simulated live-tail traffic.
type Generator struct {
	rnd Picker
}

func NewGenerator(rnd Picker) *Generator {
	return &Generator{rnd: rnd}
}

// Next builds one entry for a uniformly chosen id in running. It reports
// false when nothing is running. The ID is assigned by Ring.Append.
func (g *Generator) Next(running []string, timestamp string) (models.LogEntry, bool) {
	if len(running) == 0 {
		return models.LogEntry{}, false
	}
	return models.LogEntry{
		ContainerID:    running[g.rnd.IntN(len(running))],
		TimestampLabel: timestamp,
		Level:          levelWeights[g.rnd.IntN(len(levelWeights))],
		Message:        messageTemplates[g.rnd.IntN(len(messageTemplates))],
	}, true
}
