package state

import "sync"

// Holder owns the stream-live flag. Components read it through Get and may
// register for change notification instead of sharing an ambient variable.
type Holder struct {
	mu       sync.Mutex
	live     bool
	watchers []func(bool)
}

func NewHolder() *Holder { return &Holder{} }

func (h *Holder) Get() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.live
}

// Set updates the flag and notifies watchers only when the value changed.
func (h *Holder) Set(live bool) {
	h.mu.Lock()
	if h.live == live {
		h.mu.Unlock()
		return
	}
	h.live = live
	watchers := append(([]func(bool))(nil), h.watchers...)
	h.mu.Unlock()

	for _, fn := range watchers {
		fn(live)
	}
}

// OnChange registers a callback invoked whenever the flag flips.
func (h *Holder) OnChange(fn func(bool)) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	h.watchers = append(h.watchers, fn)
	h.mu.Unlock()
}
