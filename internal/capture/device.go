package capture

import (
	"errors"
	"sync"
)

// Typed capture faults
var (
	// ErrDeviceUnavailable indicates no audio input device could be acquired
	ErrDeviceUnavailable = errors.New("audio input device unavailable")
)

// DeviceConfig holds the fixed capture parameters requested from the
// host. Echo cancellation and noise suppression are requested but only
// applied if the host backend supports them.
type DeviceConfig struct {
	DeviceName       string // empty selects the default input device
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
}

// Device is an open audio input device delivering raw PCM16 frames
type Device interface {
	// Start begins delivering PCM frames to the callback
	Start(onData func(pcm []byte)) error
	// Stop stops the device and releases the underlying handle.
	// Stop is idempotent and must be safe to call during error unwind.
	Stop() error
}

// Opener opens audio input devices and reports which payload codecs the
// host can produce
type Opener interface {
	Open(cfg DeviceConfig) (Device, error)
	SupportedCodecs() []string
}

// DeviceOwner guards the single process-wide audio input device. Both
// the capture session and the call session acquire their local stream
// through the same owner, so concurrent use fails at acquisition with
// ErrDeviceUnavailable instead of silently interleaving.
type DeviceOwner struct {
	mu     sync.Mutex
	opener Opener
	inUse  bool
}

// NewDeviceOwner creates a device owner around the given opener
func NewDeviceOwner(opener Opener) *DeviceOwner {
	return &DeviceOwner{opener: opener}
}

// Acquire requests exclusive access to the audio input device. It fails
// with ErrDeviceUnavailable if the device is already held or the host
// has no usable input.
func (o *DeviceOwner) Acquire(cfg DeviceConfig) (*DeviceHandle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.inUse {
		return nil, ErrDeviceUnavailable
	}

	dev, err := o.opener.Open(cfg)
	if err != nil {
		return nil, errors.Join(ErrDeviceUnavailable, err)
	}

	o.inUse = true
	return &DeviceHandle{Device: dev, owner: o}, nil
}

// SupportedCodecs reports the payload codecs the host advertises
func (o *DeviceOwner) SupportedCodecs() []string {
	return o.opener.SupportedCodecs()
}

// DeviceHandle wraps an open device and returns it to the owner when
// released
type DeviceHandle struct {
	Device
	owner *DeviceOwner
	once  sync.Once
}

// Release stops the device and returns it to the owner. Safe to call
// more than once.
func (h *DeviceHandle) Release() {
	h.once.Do(func() {
		// Best-effort stop; teardown must be non-fatal
		_ = h.Device.Stop()
		h.owner.mu.Lock()
		h.owner.inUse = false
		h.owner.mu.Unlock()
	})
}

// SelectCodec picks the first codec from the preference list the host
// advertises support for. If nothing matches it degrades to the fixed
// default and the capture is attempted anyway.
func SelectCodec(preferences, supported []string, fallback string) string {
	for _, pref := range preferences {
		for _, sup := range supported {
			if pref == sup {
				return pref
			}
		}
	}
	return fallback
}
