package playback

import (
	"io"
	"log/slog"
	"sync"

	"github.com/eleven-am/voice-stream/internal/metrics"
)

// Opener creates the underlying output when the first session needs it.
type Opener func() (Sink, error)

// Device is the process-wide output handle. Sessions Acquire it before
// scheduling and Release it when they stop; the sink is opened on the first
// Acquire and closed after the last Release.
type Device struct {
	mu      sync.Mutex
	open    Opener
	sink    Sink
	refs    int
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewDevice(open Opener, m *metrics.Metrics, logger *slog.Logger) *Device {
	if logger == nil {
		logger = slog.Default()
	}
	return &Device{
		open:    open,
		metrics: m,
		logger:  logger.With("component", "playback_device"),
	}
}

func (d *Device) Acquire() (Sink, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sink == nil {
		sink, err := d.open()
		if err != nil {
			return nil, err
		}
		d.sink = sink
		d.logger.Debug("output opened")
	}
	d.refs++
	d.metrics.SetDeviceRefs(d.refs)
	return d.sink, nil
}

func (d *Device) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.refs == 0 {
		return
	}
	d.refs--
	d.metrics.SetDeviceRefs(d.refs)
	if d.refs == 0 {
		if err := d.closeSinkLocked(); err != nil {
			d.logger.Warn("close output failed", "error", err)
		}
	}
}

func (d *Device) Refs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.refs
}

// Close releases the output regardless of outstanding references.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refs = 0
	d.metrics.SetDeviceRefs(0)
	return d.closeSinkLocked()
}

func (d *Device) closeSinkLocked() error {
	sink := d.sink
	d.sink = nil
	if sink == nil {
		return nil
	}
	d.logger.Debug("output closed")
	if c, ok := sink.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
