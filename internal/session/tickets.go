package session

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/vesa/pulseboard/internal/models"
)

// maxTickets bounds the ticket table. Oldest finished tickets go first.
const maxTickets = 256

// TicketState is the progress of a submitted action.
type TicketState string

const (
	TicketPending TicketState = "pending"
	TicketDone    TicketState = "done"
	TicketFailed  TicketState = "failed"
)

// Ticket tracks one asynchronous container action.
type Ticket struct {
	ID          string                  `json:"id"`
	ContainerID string                  `json:"container"`
	Action      models.ContainerAction  `json:"action"`
	State       TicketState             `json:"state"`
	Result      *models.ContainerRecord `json:"result,omitempty"`
	Error       string                  `json:"error,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
	FinishedAt  *time.Time              `json:"finished_at,omitempty"`
}

type ticketTable struct {
	mu      sync.Mutex
	entropy io.Reader
	byID    map[string]*Ticket
	order   []string
	pending map[string]string // container id -> ticket id
}

func newTicketTable() *ticketTable {
	return &ticketTable{
		entropy: ulid.Monotonic(rand.Reader, 0),
		byID:    make(map[string]*Ticket),
		pending: make(map[string]string),
	}
}

// open registers a pending ticket for container id. It fails when the
// container already has one.
func (tt *ticketTable) open(id string, action models.ContainerAction, now time.Time) (Ticket, error) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	if tid, busy := tt.pending[id]; busy {
		return Ticket{}, fmt.Errorf("%w: container %q (ticket %s)", models.ErrActionInFlight, id, tid)
	}
	t := &Ticket{
		ID:          ulid.MustNew(ulid.Timestamp(now), tt.entropy).String(),
		ContainerID: id,
		Action:      action,
		State:       TicketPending,
		CreatedAt:   now,
	}
	tt.byID[t.ID] = t
	tt.order = append(tt.order, t.ID)
	tt.pending[id] = t.ID
	tt.evictLocked()
	return *t, nil
}

func (tt *ticketTable) finish(ticketID string, rec models.ContainerRecord, err error, now time.Time) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	t, ok := tt.byID[ticketID]
	if !ok {
		return
	}
	delete(tt.pending, t.ContainerID)
	t.FinishedAt = &now
	if err != nil {
		t.State = TicketFailed
		t.Error = err.Error()
	} else {
		t.State = TicketDone
	}
	if rec.ID != "" {
		t.Result = &rec
	}
}

func (tt *ticketTable) get(ticketID string) (Ticket, bool) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	t, ok := tt.byID[ticketID]
	if !ok {
		return Ticket{}, false
	}
	return *t, true
}

func (tt *ticketTable) evictLocked() {
	for i := 0; len(tt.byID) > maxTickets && i < len(tt.order); {
		id := tt.order[i]
		if tt.byID[id].State == TicketPending {
			i++
			continue
		}
		delete(tt.byID, id)
		tt.order = append(tt.order[:i], tt.order[i+1:]...)
	}
}
