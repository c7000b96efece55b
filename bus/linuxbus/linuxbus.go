// https://github.com/picomemcard/firmware
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package linuxbus implements bus.Frontend against real GPIO lines on
// a Linux host, the way periph-host's sysfs and gpioioctl packages
// give host processes GPIO access. It exists for development and
// bench testing on an SBC wired to a real PSX
// bus analyzer or a second microcontroller standing in for the
// console; it does not claim to meet the full 15µs ACK budget on
// every kernel, since periph's edge-wait path goes
// through a blocking syscall per bit rather than a dedicated
// hardware shift register.
package linuxbus

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/picomemcard/firmware/bus"
)

// PinNames names the four contiguous bus lines plus ACK by their
// periph pin names (e.g. "GPIO5".."GPIO9" on a Raspberry Pi header).
type PinNames struct {
	DAT, CMD, SEL, CLK, ACK string
}

// Bus is a bus.Frontend backed by periph.io GPIO pins.
type Bus struct {
	dat, cmd, sel, clk, ack gpio.PinIO

	cancel       chan struct{}
	masked       bool
	suppressNext bool

	ackLine *ackLine
}

// Open initializes the periph host drivers and resolves names into
// live pins, returning a ready Bus.
func Open(names PinNames) (*Bus, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("linuxbus: host init: %w", err)
	}

	b := &Bus{cancel: make(chan struct{})}

	var err error
	for _, p := range []struct {
		name string
		pin  *gpio.PinIO
	}{
		{names.DAT, &b.dat},
		{names.CMD, &b.cmd},
		{names.SEL, &b.sel},
		{names.CLK, &b.clk},
		{names.ACK, &b.ack},
	} {
		*p.pin = gpioreg.ByName(p.name)
		if *p.pin == nil {
			return nil, fmt.Errorf("linuxbus: unknown pin %q", p.name)
		}
	}

	if err = b.cmd.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("linuxbus: CMD in: %w", err)
	}
	if err = b.clk.In(gpio.PullNoChange, gpio.RisingEdge); err != nil {
		return nil, fmt.Errorf("linuxbus: CLK in: %w", err)
	}
	if err = b.sel.In(gpio.PullUp, gpio.RisingEdge); err != nil {
		return nil, fmt.Errorf("linuxbus: SEL in: %w", err)
	}
	if err = b.dat.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("linuxbus: DAT out: %w", err)
	}

	// periph resolves and validates the ACK pin name like any other
	// line, but actually driving it goes through openACKLine's raw
	// ioctl path below: periph's sysfs value-file writes are too slow
	// to reliably land inside the 15µs ACK window, the same reason
	// periph grew gpioioctl alongside sysfs.
	if err := b.ack.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("linuxbus: ACK validate: %w", err)
	}

	ackLine, err := openACKLine(names.ACK)
	if err != nil {
		return nil, fmt.Errorf("linuxbus: ACK line: %w", err)
	}
	b.ackLine = ackLine

	go b.watchSEL()

	return b, nil
}

// watchSEL is the software stand-in for the SEL-rise ISR: on a real
// board SEL-rise is edge-triggered at interrupt priority; here it
// is a dedicated goroutine blocked in the kernel on the pin's edge fd,
// which is as close as a Linux process gets to "highest priority,
// never blocks the caller".
func (b *Bus) watchSEL() {
	for {
		if !b.sel.WaitForEdge(-1) {
			return
		}
		if b.masked {
			continue
		}
		b.ResetFrame()
	}
}

// ResetFrame implements bus.Frontend.
func (b *Bus) ResetFrame() {
	select {
	case <-b.cancel:
	default:
		close(b.cancel)
	}
}

func (b *Bus) armCancel() chan struct{} {
	b.cancel = make(chan struct{})
	return b.cancel
}

// RecvCmd implements bus.Frontend by sampling CMD on each CLK rising
// edge until a full byte (LSB first) has shifted in.
func (b *Bus) RecvCmd() (byte, error) {
	cancel := b.armCancel()
	var v byte

	for bit := 0; bit < 8; bit++ {
		if !b.clk.WaitForEdge(-1) {
			return 0, bus.ErrFrameCanceled
		}

		select {
		case <-cancel:
			return 0, bus.ErrFrameCanceled
		default:
		}

		if b.cmd.Read() == gpio.High {
			v |= 1 << bit
		}
	}

	return v, nil
}

// RecvDat implements bus.Frontend, passively sampling DAT instead of
// driving it.
func (b *Bus) RecvDat() (byte, error) {
	cancel := b.armCancel()
	var v byte

	for bit := 0; bit < 8; bit++ {
		if !b.clk.WaitForEdge(-1) {
			return 0, bus.ErrFrameCanceled
		}

		select {
		case <-cancel:
			return 0, bus.ErrFrameCanceled
		default:
		}

		if b.dat.Read() == gpio.High {
			v |= 1 << bit
		}
	}

	return v, nil
}

// Send implements bus.Frontend: it latches b onto the DAT line one
// bit per CLK edge and fires the ACK pulse afterward via ackLine.pulse.
func (b *Bus) Send(v byte) {
	go func(v byte) {
		for bit := 0; bit < 8; bit++ {
			level := gpio.Low
			if v&(1<<bit) != 0 {
				level = gpio.High
			}
			_ = b.dat.Out(level)
			if !b.clk.WaitForEdge(-1) {
				return
			}
		}
		if b.suppressNext {
			b.suppressNext = false
			return
		}
		b.ackLine.pulse()
	}(v)
}

// SuppressAck implements bus.Frontend; the outgoing byte's goroutine
// checks this flag before firing the ACK pulse.
func (b *Bus) SuppressAck() {
	b.suppressNext = true
}

var _ bus.Frontend = (*Bus)(nil)

// MaskInterrupts / UnmaskInterrupts / TristateDAT implement
// bus.Platform so linuxbus also satisfies bus.Reconnector directly,
// without a separate board shim, since on Linux "interrupts" are just
// the watchSEL goroutine and masking it means telling it to ignore
// every edge until UnmaskInterrupts.
func (b *Bus) MaskInterrupts() {
	b.masked = true
}

func (b *Bus) UnmaskInterrupts() {
	b.masked = false
}

func (b *Bus) TristateDAT(d time.Duration) {
	_ = b.dat.In(gpio.PullNoChange, gpio.NoEdge)
	time.Sleep(d)
	_ = b.dat.Out(gpio.High)
}
