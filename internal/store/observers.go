package store

import (
	"log"

	"careline/internal/domain"
)

// Observer receives change notifications after the mutating transaction
// has committed. Callbacks run on a per-observer goroutine, so a slow
// observer never blocks the store or other observers, and an observer
// may call back into the store.
type Observer interface {
	EventDidChange(e domain.Event)
	ActivityListDidChange()
}

const observerBuffer = 64

type notification struct {
	event        *domain.Event
	activityList bool
}

type observerSlot struct {
	ch chan notification
}

// RegisterObserver installs or replaces the observer under name.
func (s *Store) RegisterObserver(name string, o Observer) {
	slot := &observerSlot{ch: make(chan notification, observerBuffer)}
	go func() {
		for n := range slot.ch {
			if n.activityList {
				o.ActivityListDidChange()
			}
			if n.event != nil {
				o.EventDidChange(*n.event)
			}
		}
	}()
	s.obsMu.Lock()
	if prev, ok := s.observers[name]; ok {
		close(prev.ch)
	}
	s.observers[name] = slot
	s.obsMu.Unlock()
}

func (s *Store) UnregisterObserver(name string) {
	s.obsMu.Lock()
	if slot, ok := s.observers[name]; ok {
		close(slot.ch)
		delete(s.observers, name)
	}
	s.obsMu.Unlock()
}

func (s *Store) dispatch(notes []notification) {
	if len(notes) == 0 {
		return
	}
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	for name, slot := range s.observers {
		for _, n := range notes {
			select {
			case slot.ch <- n:
			default:
				log.Printf("store: observer %s queue full, dropping notification", name)
			}
		}
	}
}

func (s *Store) noteEvent(e domain.Event) {
	s.pending = append(s.pending, notification{event: &e})
}

func (s *Store) noteActivityList() {
	s.pending = append(s.pending, notification{activityList: true})
}
