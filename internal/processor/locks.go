package processor

import "sync"

// uidLocks serializes action application per message UID so the live
// poll, full-sort and undo paths can run concurrently without two
// writers racing to move the same message. The section held under a
// UID lock spans decide → execute → persist → log and nothing wider.
// Entries are reference counted and dropped once the last holder
// releases, so the map stays bounded by in-flight UIDs rather than
// every UID the daemon has ever seen.
type uidLocks struct {
	mu    sync.Mutex
	locks map[string]*uidLock
}

type uidLock struct {
	mu   sync.Mutex
	refs int
}

func newUIDLocks() *uidLocks {
	return &uidLocks{locks: make(map[string]*uidLock)}
}

func (u *uidLocks) lock(uid string) func() {
	u.mu.Lock()
	l, ok := u.locks[uid]
	if !ok {
		l = &uidLock{}
		u.locks[uid] = l
	}
	l.refs++
	u.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		u.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(u.locks, uid)
		}
		u.mu.Unlock()
	}
}
