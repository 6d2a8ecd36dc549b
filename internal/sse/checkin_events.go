package sse

import (
	"context"
	"sync"

	"ms-booking/internal/models"
)

const clientBuffer = 16

// CheckInEmitter fans check-in events out to the SSE clients watching an
// event's door.
type CheckInEmitter struct {
	// key: eventID, value: client channels
	clients map[string][]chan models.TicketCheckedInEvent
	mu      sync.RWMutex
}

func NewCheckInEmitter() *CheckInEmitter {
	return &CheckInEmitter{
		clients: make(map[string][]chan models.TicketCheckedInEvent),
	}
}

// Subscribe registers a client for eventID. The channel is closed once ctx
// is done.
func (e *CheckInEmitter) Subscribe(ctx context.Context, eventID string) <-chan models.TicketCheckedInEvent {
	ch := make(chan models.TicketCheckedInEvent, clientBuffer)

	e.mu.Lock()
	e.clients[eventID] = append(e.clients[eventID], ch)
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.remove(eventID, ch)
	}()

	return ch
}

// Emit broadcasts ev to the event's subscribers. Slow clients miss events
// rather than blocking check-in.
func (e *CheckInEmitter) Emit(ev models.TicketCheckedInEvent) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, ch := range e.clients[ev.EventID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (e *CheckInEmitter) remove(eventID string, ch chan models.TicketCheckedInEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	clients := e.clients[eventID]
	for i, c := range clients {
		if c == ch {
			e.clients[eventID] = append(clients[:i], clients[i+1:]...)
			close(ch)
			break
		}
	}
	if len(e.clients[eventID]) == 0 {
		delete(e.clients, eventID)
	}
}

// ClientCount returns the number of clients subscribed to eventID.
func (e *CheckInEmitter) ClientCount(eventID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.clients[eventID])
}

// PublishCheckIn emits locally. Used when no broker relays check-ins
// between instances.
func (e *CheckInEmitter) PublishCheckIn(_ context.Context, ev models.TicketCheckedInEvent) error {
	e.Emit(ev)
	return nil
}
