package serialmux

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/kinetic/internal/monitoring"
)

var logf = monitoring.Tagged("serial")

// DefaultRestartDelay is how long a Link waits before restarting a monitor
// that stopped on a read error or EOF.
const DefaultRestartDelay = time.Second

// Link adapts a SerialMux to the non-blocking, poll-driven reads of the
// device protocol. It keeps one subscription and restarts Monitor whenever
// it exits until the link is closed.
type Link struct {
	mux   SerialMuxInterface
	id    string
	lines chan string
	delay time.Duration

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewLink subscribes to mux and starts monitoring it.
func NewLink(mux SerialMuxInterface) *Link {
	return newLink(mux, DefaultRestartDelay)
}

func newLink(mux SerialMuxInterface, delay time.Duration) *Link {
	ctx, cancel := context.WithCancel(context.Background())
	id, lines := mux.Subscribe()
	l := &Link{
		mux:    mux,
		id:     id,
		lines:  lines,
		delay:  delay,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go l.monitor(ctx)
	return l
}

func (l *Link) monitor(ctx context.Context) {
	defer close(l.done)
	for {
		err := l.mux.Monitor(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logf("monitor stopped: %v, restarting in %s", err, l.delay)
		} else {
			logf("monitor reached end of stream, restarting in %s", l.delay)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(l.delay):
		}
	}
}

// ReadLine returns the next buffered line without blocking.
func (l *Link) ReadLine() (string, bool) {
	select {
	case line, ok := <-l.lines:
		if !ok {
			return "", false
		}
		return line, true
	default:
		return "", false
	}
}

// SendCommand writes command to the device.
func (l *Link) SendCommand(command string) error {
	return l.mux.SendCommand(command)
}

// Close stops monitoring and closes the underlying port. It is safe to call
// more than once.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		l.cancel()
		l.closeErr = l.mux.Close()
		<-l.done
	})
	return l.closeErr
}
