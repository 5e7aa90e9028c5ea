package serialmux

import (
	"net/http"
	"sync"
)

// Tracker wraps a link opener and remembers the most recently opened Link,
// so debug routes registered once keep following the device across
// reopens.
type Tracker struct {
	open func(string, PortOptions) (*Link, error)

	mu   sync.Mutex
	link *Link
}

// NewTracker returns a Tracker opening links with open.
func NewTracker(open func(string, PortOptions) (*Link, error)) *Tracker {
	return &Tracker{open: open}
}

// Open opens a link and makes it current. A failed open clears the current
// link.
func (t *Tracker) Open(path string, opts PortOptions) (*Link, error) {
	link, err := t.open(path, opts)
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.link = nil
		return nil, err
	}
	t.link = link
	return link, nil
}

// Current returns the mux of the current link, or nil.
func (t *Tracker) Current() SerialMuxInterface {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.link == nil {
		return nil
	}
	return t.link.mux
}

// AttachAdminRoutes mounts the serial debug routes against the current link.
func (t *Tracker) AttachAdminRoutes(mux *http.ServeMux) {
	attachAdminRoutes(mux, t.Current)
}
