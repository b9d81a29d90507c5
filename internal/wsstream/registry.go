package wsstream

import "sync"

// registry maps a cart id to the connection currently speaking for it.
// Last writer wins: a second device identifying as the same cart simply
// takes over the binding, no mutual exclusion is enforced.
type registry struct {
	mu     sync.Mutex
	byCart map[string]uint64
}

func newRegistry() *registry {
	return &registry{byCart: make(map[string]uint64)}
}

func (r *registry) bind(cartID string, cid uint64) {
	r.mu.Lock()
	r.byCart[cartID] = cid
	r.mu.Unlock()
}

// unbind removes the binding only if cid still holds it, and reports
// whether it did. A stale connection closing after a takeover must not
// mark the still-connected cart offline.
func (r *registry) unbind(cartID string, cid uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byCart[cartID]
	if !ok || cur != cid {
		return false
	}
	delete(r.byCart, cartID)
	return true
}

func (r *registry) bound(cartID string) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cid, ok := r.byCart[cartID]
	return cid, ok
}

func (r *registry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byCart)
}
