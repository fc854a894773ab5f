// ABOUTME: Typed change events delivered synchronously to account observers
// ABOUTME: Structure events raised inside BatchUpdate are coalesced into one

package account

import "github.com/harper/feedsync/internal/models"

// Event is one of the change notifications below.
type Event interface {
	event()
}

// StructureChanged reports that feeds or folders were added, removed, moved or renamed.
type StructureChanged struct{}

// UnreadCountsChanged lists the feeds whose cached unread count changed.
type UnreadCountsChanged struct {
	FeedIDs []string
}

// StatusesChanged reports a status flag that changed on the listed articles.
type StatusesChanged struct {
	ArticleIDs []string
	Key        models.StatusKey
	Flag       bool
}

// ArticlesChanged reports articles created or updated by a merge.
type ArticlesChanged struct {
	New     []string
	Updated []string
}

func (StructureChanged) event()    {}
func (UnreadCountsChanged) event() {}
func (StatusesChanged) event()     {}
func (ArticlesChanged) event()     {}

// Observe registers fn for every event and returns a function that removes it.
// Observers run on the goroutine that caused the change, outside the tree lock.
func (a *Account) Observe(fn func(Event)) func() {
	a.obsMu.Lock()
	defer a.obsMu.Unlock()
	id := a.nextObserver
	a.nextObserver++
	a.observers[id] = fn
	return func() {
		a.obsMu.Lock()
		defer a.obsMu.Unlock()
		delete(a.observers, id)
	}
}

func (a *Account) emit(events ...Event) {
	if len(events) == 0 {
		return
	}
	a.obsMu.Lock()
	observers := make([]func(Event), 0, len(a.observers))
	for _, fn := range a.observers {
		observers = append(observers, fn)
	}
	a.obsMu.Unlock()

	for _, e := range events {
		for _, fn := range observers {
			fn(e)
		}
	}
}

// BatchUpdate runs fn and delivers at most one StructureChanged for every
// structural change made inside it.
func (a *Account) BatchUpdate(fn func() error) error {
	a.mu.Lock()
	a.batchDepth++
	a.mu.Unlock()

	err := fn()

	a.mu.Lock()
	a.batchDepth--
	fire := a.batchDepth == 0 && a.batchStructure
	if fire {
		a.batchStructure = false
	}
	a.mu.Unlock()

	if fire {
		a.emit(StructureChanged{})
	}
	return err
}

// structureChanged must be called with mu held. It returns the events to
// emit once the lock is released.
func (a *Account) structureChanged() []Event {
	a.treeDirty = true
	if a.batchDepth > 0 {
		a.batchStructure = true
		return nil
	}
	return []Event{StructureChanged{}}
}
