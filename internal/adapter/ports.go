package adapter

import (
	"fmt"
	"sync"

	"github.com/splicecast/splicecast/internal/models"
)

// PortRegistry tracks listening ports claimed by socket outputs so two
// targets cannot race for the same port. Reservations are process-local;
// the OS still has the final word at bind time.
type PortRegistry struct {
	mu     sync.Mutex
	owners map[int]string
}

// NewPortRegistry creates an empty registry.
func NewPortRegistry() *PortRegistry {
	return &PortRegistry{owners: make(map[int]string)}
}

// Reserve claims a port for the named owner. A port already held by any
// owner, including the same one, is a conflict.
func (r *PortRegistry) Reserve(port int, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if holder, taken := r.owners[port]; taken {
		return models.ErrConflict{
			Resource: fmt.Sprintf("port %d", port),
			Message:  fmt.Sprintf("already in use by %s", holder),
		}
	}
	r.owners[port] = owner
	return nil
}

// Release frees a port. Releasing an unreserved port is a no-op.
func (r *PortRegistry) Release(port int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.owners, port)
}

// Owner reports who holds a port.
func (r *PortRegistry) Owner(port int) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[port]
	return owner, ok
}
