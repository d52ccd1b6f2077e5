package conn

// mutex is a channel-backed mutual exclusion primitive that, unlike
// sync.Mutex, may be legitimately acquired in one goroutine and
// released in another — exactly the shot_lock discipline of §3/§4.6,
// where the lock is taken when a shot is enqueued and released only
// once the next turn message has been dispatched, possibly by a
// different goroutine (the reconnection-timeout handler).
type mutex chan struct{}

func newMutex() mutex {
	m := make(mutex, 1)
	m <- struct{}{}
	return m
}

func (m mutex) Lock() {
	<-m
}

// TryLock reports whether the lock was free and is now held.
func (m mutex) TryLock() bool {
	select {
	case <-m:
		return true
	default:
		return false
	}
}

func (m mutex) Unlock() {
	select {
	case m <- struct{}{}:
	default:
		// Already unlocked; double-unlock is a programmer error elsewhere
		// but must not panic a cleanup path.
	}
}
