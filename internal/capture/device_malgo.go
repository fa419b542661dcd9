package capture

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/yegors/voxdesk/pkg/logger"
)

// MalgoOpener opens real audio input devices through the miniaudio
// bindings. The backend is selected per platform.
type MalgoOpener struct {
	logger *logger.Logger
}

// NewMalgoOpener creates an opener backed by the host audio stack
func NewMalgoOpener(log *logger.Logger) *MalgoOpener {
	return &MalgoOpener{logger: log.Named("malgo")}
}

// SupportedCodecs reports the codecs this backend can produce. Raw PCM
// capture is finalized as WAV.
func (o *MalgoOpener) SupportedCodecs() []string {
	return []string{"audio/wav"}
}

// Open initializes the platform audio context and prepares a capture
// device with the requested parameters
func (o *MalgoOpener) Open(cfg DeviceConfig) (Device, error) {
	var backend malgo.Backend
	switch runtime.GOOS {
	case "linux":
		backend = malgo.BackendAlsa
	case "windows":
		backend = malgo.BackendWasapi
	case "darwin":
		backend = malgo.BackendCoreaudio
	}

	ctx, err := malgo.InitContext([]malgo.Backend{backend}, malgo.ContextConfig{}, func(message string) {
		o.logger.Debug(message)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	if cfg.DeviceName != "" {
		infos, err := ctx.Devices(malgo.Capture)
		if err != nil {
			ctx.Uninit() //nolint:errcheck
			return nil, fmt.Errorf("failed to enumerate capture devices: %w", err)
		}
		found := false
		for i := range infos {
			if infos[i].Name() == cfg.DeviceName {
				deviceConfig.Capture.DeviceID = infos[i].ID.Pointer()
				found = true
				break
			}
		}
		if !found {
			ctx.Uninit() //nolint:errcheck
			return nil, fmt.Errorf("capture device %q not found", cfg.DeviceName)
		}
	}

	return &malgoDevice{
		ctx:    ctx,
		config: deviceConfig,
		logger: o.logger,
	}, nil
}

// malgoDevice is a Device over one malgo capture device
type malgoDevice struct {
	ctx    *malgo.AllocatedContext
	config malgo.DeviceConfig
	logger *logger.Logger

	mu     sync.Mutex
	device *malgo.Device
}

// Start initializes the underlying device with the data callback and
// begins capture
func (d *malgoDevice) Start(onData func(pcm []byte)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.device != nil {
		return fmt.Errorf("capture device already started")
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pSamples []byte, framecount uint32) {
			// Copy out: malgo reuses the sample buffer between callbacks
			buf := make([]byte, len(pSamples))
			copy(buf, pSamples)
			onData(buf)
		},
	}

	device, err := malgo.InitDevice(d.ctx.Context, d.config, callbacks)
	if err != nil {
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("failed to start capture device: %w", err)
	}

	d.device = device
	return nil
}

// Stop stops capture and tears down the device and context. Idempotent.
func (d *malgoDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.device != nil {
		_ = d.device.Stop()
		d.device.Uninit()
		d.device = nil
	}
	if d.ctx != nil {
		_ = d.ctx.Uninit()
		d.ctx = nil
	}
	return nil
}
