// Package logbuf keeps the most recent container log lines in a bounded,
// oldest-evicted-first buffer and answers filtered queries over it.
package logbuf

import (
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"

	"github.com/vesa/pulseboard/internal/models"
)

// DefaultCapacity is the number of entries kept when none is configured.
const DefaultCapacity = 50

// NameLookup resolves a container id to its display name.
type NameLookup interface {
	ContainerName(id string) (string, bool)
}

// Ring is a capped FIFO of log entries.
type Ring struct {
	mu       sync.RWMutex
	entries  []models.LogEntry
	capacity int
	nextID   uint64
	names    NameLookup
}

// NewRing returns an empty ring. names may be nil, in which case search
// only matches messages and container ids.
func NewRing(capacity int, names NameLookup) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{
		entries:  make([]models.LogEntry, 0, capacity+1),
		capacity: capacity,
		names:    names,
	}
}

// Append stores e at the tail with the next sequence id and evicts from the
// head until the ring is back at capacity. It returns the stored entry.
func (r *Ring) Append(e models.LogEntry) models.LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	e.ID = r.nextID
	r.entries = append(r.entries, e)
	if over := len(r.entries) - r.capacity; over > 0 {
		r.entries = append(r.entries[:0], r.entries[over:]...)
	}
	return e
}

func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Ring) Capacity() int { return r.capacity }

// Entries returns a copy of the buffer, oldest first.
func (r *Ring) Entries() []models.LogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.LogEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Clear drops every entry. Sequence ids keep increasing afterwards.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = r.entries[:0]
}

// Query returns the entries matching f in buffer order. The sequence is
// evaluated lazily against the buffer contents at the time of each range,
// so it can be ranged over more than once.
func (r *Ring) Query(f models.LogFilter) (iter.Seq[models.LogEntry], error) {
	m, err := r.matcher(f)
	if err != nil {
		return nil, err
	}
	return func(yield func(models.LogEntry) bool) {
		for _, e := range r.Entries() {
			if !m(e) {
				continue
			}
			if !yield(e) {
				return
			}
		}
	}, nil
}

// Collect runs Query and gathers the result.
func (r *Ring) Collect(f models.LogFilter) ([]models.LogEntry, error) {
	seq, err := r.Query(f)
	if err != nil {
		return nil, err
	}
	out := []models.LogEntry{}
	for e := range seq {
		out = append(out, e)
	}
	return out, nil
}

// Export writes the matching entries as plain text, one per line.
func (r *Ring) Export(w io.Writer, f models.LogFilter) (int, error) {
	seq, err := r.Query(f)
	if err != nil {
		return 0, err
	}
	n := 0
	for e := range seq {
		if _, err := fmt.Fprintf(w, "[%s] %-5s %s: %s\n",
			e.TimestampLabel, strings.ToUpper(string(e.Level)), e.ContainerID, e.Message); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (r *Ring) matcher(f models.LogFilter) (func(models.LogEntry) bool, error) {
	level, ok := models.ParseLogLevel(f.Level)
	if !ok {
		return nil, fmt.Errorf("%w: log level %q", models.ErrInvalidArgument, f.Level)
	}
	container := strings.TrimSpace(f.ContainerID)
	if container == "all" {
		container = ""
	}
	search := strings.ToLower(strings.TrimSpace(f.Search))

	return func(e models.LogEntry) bool {
		if container != "" && e.ContainerID != container {
			return false
		}
		if level != "" && e.Level != level {
			return false
		}
		if search == "" {
			return true
		}
		if strings.Contains(strings.ToLower(e.Message), search) ||
			strings.Contains(strings.ToLower(e.ContainerID), search) {
			return true
		}
		if r.names != nil {
			if name, ok := r.names.ContainerName(e.ContainerID); ok {
				return strings.Contains(strings.ToLower(name), search)
			}
		}
		return false
	}, nil
}
