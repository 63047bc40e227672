// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sink

import (
	"fmt"
	"image"
	"io"
	"log"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/imu_logger/internal/acquisition"
)

// Panel is the drawing surface of a display; *ssd1306.Dev satisfies it.
type Panel interface {
	Bounds() image.Rectangle
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
}

// OLED shows the latest sample on a 128x64 panel. OnSample only stores
// the sample; a separate loop redraws on its own ticker when it changed.
type OLED struct {
	panel  Panel
	closer io.Closer

	mu     sync.Mutex
	latest acquisition.Sample
	have   bool
	dirty  bool

	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// OpenOLED initializes periph, opens the named I2C bus ("" for the first
// one) and starts an SSD1306 panel at its default address.
func OpenOLED(busName string, interval time.Duration) (*OLED, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus: %w", err)
	}

	opts := ssd1306.DefaultOpts
	dev, err := ssd1306.NewI2C(bus, &opts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Printf("display: ssd1306 initialized on %s", bus)

	o := NewOLED(dev, interval)
	o.closer = bus
	return o, nil
}

// NewOLED starts the redraw loop on panel.
func NewOLED(panel Panel, interval time.Duration) *OLED {
	o := &OLED{
		panel: panel,
		dirty: true,
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go o.loop(interval)
	return o
}

// OnSample implements acquisition.Sink.
func (o *OLED) OnSample(s acquisition.Sample) {
	o.mu.Lock()
	o.latest = s
	o.have = true
	o.dirty = true
	o.mu.Unlock()
}

func (o *OLED) loop(interval time.Duration) {
	defer close(o.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-o.quit:
			return
		case <-ticker.C:
		}

		o.mu.Lock()
		s, have, dirty := o.latest, o.have, o.dirty
		o.dirty = false
		o.mu.Unlock()

		if !dirty {
			continue
		}
		img := RenderSample(s, have)
		if err := o.panel.Draw(o.panel.Bounds(), img, image.Point{}); err != nil {
			log.Printf("display: error updating display: %v", err)
		}
	}
}

// Close stops the redraw loop and releases the bus.
func (o *OLED) Close() error {
	o.closeOnce.Do(func() { close(o.quit) })
	<-o.done
	if o.closer != nil {
		return o.closer.Close()
	}
	return nil
}

// RenderSample draws the orientation page: roll, pitch, yaw and the z
// gyro rate, or a waiting screen before the first sample.
func RenderSample(s acquisition.Sample, have bool) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}

	if !have {
		drawer.Dot = fixed.P(0, 26)
		drawer.DrawBytes([]byte("Orientation"))
		drawer.Dot = fixed.P(0, 39)
		drawer.DrawBytes([]byte("Waiting..."))
		return img
	}

	drawer.Dot = fixed.P(0, 13)
	drawer.DrawBytes([]byte(fmt.Sprintf("R: %6.1f", s.Pose.Roll)))

	drawer.Dot = fixed.P(0, 26)
	drawer.DrawBytes([]byte(fmt.Sprintf("P: %6.1f", s.Pose.Pitch)))

	drawer.Dot = fixed.P(0, 39)
	drawer.DrawBytes([]byte(fmt.Sprintf("Y: %6.1f", s.Pose.Yaw)))

	drawer.Dot = fixed.P(0, 52)
	drawer.DrawBytes([]byte(fmt.Sprintf("Gz:%6d #%d", s.Raw.Gz, s.Seq)))

	return img
}
