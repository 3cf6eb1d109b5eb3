// Package autosave coalesces rapid edit notifications into periodic
// persistence writes. Each draft gets a trailing-edge debounce window and a
// single-flight write guard: at most one save per draft is in flight at a
// time, and edits arriving mid-flight are coalesced into one follow-up save
// carrying the latest payload.
package autosave

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type SaveState string

const (
	StateIdle   SaveState = "idle"
	StateSaving SaveState = "saving"
	StateSaved  SaveState = "saved"
	StateError  SaveState = "error"
)

// Saver persists one draft payload. It is called from coordinator-owned
// goroutines, never concurrently for the same draft id.
type Saver func(ctx context.Context, draftID, title string, content json.RawMessage) error

// StateListener observes per-draft state transitions. err is non-nil only
// for StateError. The listener runs under the coordinator lock and must not
// call back into the coordinator.
type StateListener func(draftID string, state SaveState, err error)

type payload struct {
	title   string
	content json.RawMessage
}

type draftState struct {
	timer      *time.Timer
	savedTimer *time.Timer
	pending    *payload
	inFlight   bool
	state      SaveState
	waiters    []chan error
	lastErr    error
}

type Coordinator struct {
	mu           sync.Mutex
	saver        Saver
	debounce     time.Duration
	savedDisplay time.Duration
	onState      StateListener
	drafts       map[string]*draftState
	closed       bool
	wg           sync.WaitGroup
}

// New builds a coordinator. debounce is the quiet window after the last edit
// before a save fires; savedDisplay is how long StateSaved is held before
// reverting to StateIdle. onState may be nil.
func New(saver Saver, debounce, savedDisplay time.Duration, onState StateListener) *Coordinator {
	return &Coordinator{
		saver:        saver,
		debounce:     debounce,
		savedDisplay: savedDisplay,
		onState:      onState,
		drafts:       make(map[string]*draftState),
	}
}

// Queue records an edit and restarts the draft's debounce window. Only the
// most recent payload per draft survives; earlier queued edits are replaced,
// not persisted.
func (c *Coordinator) Queue(draftID, title string, content json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	d := c.draft(draftID)
	d.pending = &payload{title: title, content: content}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(c.debounce, func() { c.fire(draftID) })
}

// SaveNow bypasses the debounce window and blocks until the draft's queue is
// fully drained, returning the error of the final write. With no pending edit
// and no flight in progress it returns immediately.
func (c *Coordinator) SaveNow(ctx context.Context, draftID string) error {
	c.mu.Lock()
	d := c.draft(draftID)
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.pending == nil && !d.inFlight {
		err := d.lastErr
		c.mu.Unlock()
		return err
	}
	done := make(chan error, 1)
	d.waiters = append(d.waiters, done)
	if !d.inFlight && d.pending != nil {
		c.startFlightLocked(draftID, d)
	}
	c.mu.Unlock()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State reports the current save state for a draft.
func (c *Coordinator) State(draftID string) SaveState {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.drafts[draftID]
	if !ok {
		return StateIdle
	}
	return d.state
}

// Close cancels all pending debounce windows without flushing them and waits
// for in-flight saves to complete. Edits queued but not yet fired are lost.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	for _, d := range c.drafts {
		if d.timer != nil {
			d.timer.Stop()
			d.timer = nil
		}
		if d.savedTimer != nil {
			d.savedTimer.Stop()
			d.savedTimer = nil
		}
		d.pending = nil
	}
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Coordinator) draft(draftID string) *draftState {
	d, ok := c.drafts[draftID]
	if !ok {
		d = &draftState{state: StateIdle}
		c.drafts[draftID] = d
	}
	return d
}

func (c *Coordinator) fire(draftID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	d := c.draft(draftID)
	d.timer = nil
	if d.inFlight || d.pending == nil {
		// A pending payload under an active flight is picked up when the
		// flight lands.
		return
	}
	c.startFlightLocked(draftID, d)
}

func (c *Coordinator) startFlightLocked(draftID string, d *draftState) {
	p := d.pending
	d.pending = nil
	d.inFlight = true
	if d.savedTimer != nil {
		d.savedTimer.Stop()
		d.savedTimer = nil
	}
	c.setStateLocked(draftID, d, StateSaving, nil)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := c.saver(context.Background(), draftID, p.title, p.content)
		c.land(draftID, err)
	}()
}

func (c *Coordinator) land(draftID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.draft(draftID)
	d.inFlight = false
	d.lastErr = err

	// Coalesced edits from during the flight start exactly one follow-up.
	if err == nil && d.pending != nil && d.timer == nil && !c.closed {
		c.startFlightLocked(draftID, d)
		return
	}

	for _, waiter := range d.waiters {
		waiter <- err
	}
	d.waiters = nil

	if err != nil {
		c.setStateLocked(draftID, d, StateError, err)
		return
	}
	c.setStateLocked(draftID, d, StateSaved, nil)
	d.savedTimer = time.AfterFunc(c.savedDisplay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if d.state == StateSaved && !d.inFlight {
			c.setStateLocked(draftID, d, StateIdle, nil)
		}
	})
}

func (c *Coordinator) setStateLocked(draftID string, d *draftState, state SaveState, err error) {
	d.state = state
	if c.onState != nil {
		c.onState(draftID, state, err)
	}
}
