package library

import "sync"

// bookLocks hands out one exclusive lock per book id. Entries are dropped as
// soon as nobody holds or waits on them, so the map only grows with the number
// of books under concurrent mutation.
type bookLocks struct {
	mu   sync.Mutex
	held map[string]*bookLock
}

type bookLock struct {
	sync.Mutex
	refs int
}

func newBookLocks() *bookLocks {
	return &bookLocks{held: make(map[string]*bookLock)}
}

// lock blocks until the caller owns bookID and returns the release func.
func (l *bookLocks) lock(bookID string) (unlock func()) {
	l.mu.Lock()
	bl, ok := l.held[bookID]
	if !ok {
		bl = &bookLock{}
		l.held[bookID] = bl
	}
	bl.refs++
	l.mu.Unlock()

	bl.Lock()
	return func() {
		bl.Unlock()

		l.mu.Lock()
		bl.refs--
		if bl.refs == 0 {
			delete(l.held, bookID)
		}
		l.mu.Unlock()
	}
}

func (l *bookLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}
