package engine

import (
	"sync"

	"github.com/google/uuid"
)

// lockTable serializes submissions and resolution per bounty. Unrelated
// bounties never contend; there is no global lock.
type lockTable struct {
	locks sync.Map // uuid.UUID -> *sync.Mutex
}

func (t *lockTable) lock(id uuid.UUID) *sync.Mutex {
	v, _ := t.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu
}
