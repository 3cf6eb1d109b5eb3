// Package bus is the in-process notification channel between the editor,
// the workspace sidebar, and the listing views. Delivery is fire-and-forget:
// events reach listeners subscribed at emission time, in emission order, at
// most once. There is no replay or buffering; a view that mounts late must
// re-fetch authoritative state instead of relying on missed events.
package bus

import "sync"

// DraftUpdated is a partial patch for one draft. Consumers merge non-empty
// fields into their local copy of that draft only.
type DraftUpdated struct {
	ID       string  `json:"id"`
	Title    string  `json:"title,omitempty"`
	Slug     string  `json:"slug,omitempty"`
	FolderID *string `json:"folder_id,omitempty"`
}

// RefreshDrafts tells consumers to discard cached state and re-fetch in full.
type RefreshDrafts struct{}

// Listener receives events. Exactly one field of Event is set per delivery.
type Event struct {
	DraftUpdated  *DraftUpdated
	RefreshDrafts *RefreshDrafts
}

type Listener func(Event)

// Bus is an observer registry. The zero value is not usable; call New.
type Bus struct {
	mu        sync.Mutex
	nextID    int
	listeners []subscription
}

type subscription struct {
	id int
	fn Listener
}

func New() *Bus {
	return &Bus{}
}

// Subscribe registers a listener and returns an unsubscribe function.
// Views must call it on teardown so a pending emission cannot reach
// unmounted state.
func (b *Bus) Subscribe(fn Listener) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, subscription{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.listeners {
			if sub.id == id {
				b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
				return
			}
		}
	}
}

// EmitDraftUpdated delivers a partial draft patch to current listeners.
func (b *Bus) EmitDraftUpdated(event DraftUpdated) {
	b.emit(Event{DraftUpdated: &event})
}

// EmitRefreshDrafts asks current listeners to re-fetch their draft lists.
func (b *Bus) EmitRefreshDrafts() {
	b.emit(Event{RefreshDrafts: &RefreshDrafts{}})
}

func (b *Bus) emit(event Event) {
	b.mu.Lock()
	targets := make([]Listener, len(b.listeners))
	for i, sub := range b.listeners {
		targets[i] = sub.fn
	}
	b.mu.Unlock()

	// Listeners run synchronously so emission order is observation order.
	for _, fn := range targets {
		fn(event)
	}
}
