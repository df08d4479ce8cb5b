// Package ticketlock serializes Pipeline steps 3-8 for the same ticket
// number within this process (§4.6). It does not replace the database's
// transactional guarantees (Store.LockTicket takes the cross-process
// pg_advisory_xact_lock); it only prevents two goroutines in this process
// from racing to read-modify-write the same in-flight ticket.
package ticketlock

import "sync"

// Manager hands out a per-ticket mutex, mirroring the teacher's
// reinitMu sync.Map (serverID → *sync.Mutex) pattern in pkg/mcp/client.go,
// generalized from MCP server IDs to ticket numbers.
type Manager struct {
	locks sync.Map // ticket number → *sync.Mutex
}

// New constructs an empty Manager.
func New() *Manager {
	return &Manager{}
}

// Lock blocks until the named ticket's mutex is acquired and returns an
// unlock function. Callers should defer the returned function rather than
// call Unlock directly, to avoid unlocking the wrong generation of mutex.
func (m *Manager) Lock(ticketNumber string) (unlock func()) {
	muI, _ := m.locks.LoadOrStore(ticketNumber, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
