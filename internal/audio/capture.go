package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/hammamikhairi/voicegate/internal/logger"
)

// ErrDeviceUnavailable is returned when the capture or playback device
// cannot be opened. Fatal at startup, a warning at runtime.
var ErrDeviceUnavailable = errors.New("audio device unavailable")

const captureQueueCap = 32

// Capture owns the malgo capture device and delivers fixed-size frames
// in capture order on C. Frames are re-assembled from whatever chunk
// sizes the driver produces.
type Capture struct {
	sampleRate int
	deviceName string
	log        *logger.Logger

	frames chan Frame
	drops  atomic.Int64

	mctx     *malgo.AllocatedContext
	device   *malgo.Device
	stopOnce sync.Once
}

// NewCapture prepares a capture pipeline. Start opens the device.
func NewCapture(deviceName string, sampleRate int, log *logger.Logger) *Capture {
	return &Capture{
		sampleRate: sampleRate,
		deviceName: deviceName,
		log:        log,
		frames:     make(chan Frame, captureQueueCap),
	}
}

// C returns the frame stream.
func (c *Capture) C() <-chan Frame { return c.frames }

// Drops returns the number of frames dropped because the consumer fell
// behind.
func (c *Capture) Drops() int64 { return c.drops.Load() }

// Start opens the device and begins delivering frames until ctx is
// cancelled. Returns ErrDeviceUnavailable if the device cannot be
// opened.
func (c *Capture) Start(ctx context.Context) error {
	if c.sampleRate != 16000 {
		c.log.Warn("capture rate is %d Hz; the wake-word models require 16 kHz", c.sampleRate)
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return fmt.Errorf("%w: init context: %v", ErrDeviceUnavailable, err)
	}
	c.mctx = mctx

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.SampleRate = uint32(c.sampleRate)
	devCfg.Capture.Format = malgo.FormatS16
	devCfg.Capture.Channels = 1
	devCfg.Alsa.NoMMap = 1

	if c.deviceName != "" {
		if id := c.findDevice(); id != nil {
			devCfg.Capture.DeviceID = id.Pointer()
		} else {
			c.log.Warn("mic device %q not found, using default", c.deviceName)
		}
	}

	// Partial driver chunks are stitched into exact 1280-sample frames.
	rem := make([]int16, 0, FrameSamples*2)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_ []byte, raw []byte, _ uint32) {
			n := len(raw) / 2
			if n == 0 {
				return
			}
			for i := 0; i < n; i++ {
				rem = append(rem, int16(binary.LittleEndian.Uint16(raw[i*2:i*2+2])))
			}
			for len(rem) >= FrameSamples {
				frame := make(Frame, FrameSamples)
				copy(frame, rem[:FrameSamples])
				k := copy(rem, rem[FrameSamples:])
				rem = rem[:k]
				select {
				case c.frames <- frame:
				default:
					c.drops.Add(1)
				}
			}
		},
	}

	device, err := malgo.InitDevice(mctx.Context, devCfg, callbacks)
	if err != nil {
		c.teardownContext()
		return fmt.Errorf("%w: init device: %v", ErrDeviceUnavailable, err)
	}
	c.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		c.teardownContext()
		return fmt.Errorf("%w: start device: %v", ErrDeviceUnavailable, err)
	}

	c.log.Info("capture started (rate=%d, frame=%d samples)", c.sampleRate, FrameSamples)

	go func() {
		<-ctx.Done()
		c.Stop()
	}()

	return nil
}

// Stop shuts down the device and closes the frame stream. Idempotent.
func (c *Capture) Stop() {
	c.stopOnce.Do(func() {
		if c.device != nil {
			c.device.Uninit()
			c.device = nil
			close(c.frames)
		}
		c.teardownContext()
		if d := c.drops.Load(); d > 0 {
			c.log.Warn("capture dropped %d frames total", d)
		}
	})
}

func (c *Capture) teardownContext() {
	if c.mctx != nil {
		_ = c.mctx.Uninit()
		c.mctx.Free()
		c.mctx = nil
	}
}

// findDevice matches the configured device name against the capture
// device list.
func (c *Capture) findDevice() *malgo.DeviceID {
	infos, err := c.mctx.Devices(malgo.Capture)
	if err != nil {
		c.log.Warn("device enumeration failed: %v", err)
		return nil
	}
	for i := range infos {
		if strings.Contains(strings.ToLower(infos[i].Name()), strings.ToLower(c.deviceName)) {
			id := infos[i].ID
			return &id
		}
	}
	return nil
}
