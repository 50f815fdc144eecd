package session

import (
	"github.com/rs/zerolog/log"

	"github.com/Rrens/secassist/internal/domain"
)

const defaultSubscriberBuffer = 16

type subscriber struct {
	ch      chan domain.Snapshot
	dropped int
}

// Subscribe registers an observer. The current snapshot is delivered first.
// Delivery never blocks the store: when the buffer is full the oldest
// snapshot is discarded, so the newest one always reflects the latest state.
func (s *Store) Subscribe(buffer int) (<-chan domain.Snapshot, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &subscriber{ch: make(chan domain.Snapshot, buffer)}
	if s.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}

	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub
	sub.send(s.snapshotLocked())

	unsubscribe := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub.ch)
		}
	}
	return sub.ch, unsubscribe
}

// broadcastLocked shares one snapshot among all observers; they must treat it as read-only
func (s *Store) broadcastLocked(snap domain.Snapshot) {
	for _, sub := range s.subs {
		sub.send(snap)
	}
}

// send enqueues without blocking, dropping the oldest entry when full.
// Only the store sends, under its lock.
func (sub *subscriber) send(snap domain.Snapshot) {
	for {
		select {
		case sub.ch <- snap:
			return
		default:
		}

		select {
		case <-sub.ch:
			sub.dropped++
			if sub.dropped%100 == 1 {
				log.Debug().Int("dropped", sub.dropped).Msg("Slow session observer, dropping oldest snapshot")
			}
		default:
		}
	}
}
