// https://github.com/picomemcard/firmware
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package boardbus adapts a board's programmable-IO bring-up into
// the bus.Frontend contract. It is the production backend for
// GOOS=tamago builds targeting an RP2040-class board: four contiguous
// GPIOs (DAT, CMD, SEL, CLK) driven by a PIO-like programmable block,
// plus an open-drain ACK line.
package boardbus

import (
	"time"

	"github.com/picomemcard/firmware/bus"
)

// PIO is the board-specific state-machine bring-up this package is
// built on: four cooperating shift-register programs (SEL monitor,
// CMD reader, DAT reader, DAT writer), selected onto a contiguous
// GPIO group and enabled in lock-step. Picking the PIO block,
// assembling and loading the programs, and wiring the SEL-rise IRQ
// all belong to the board package; this interface is the seam it
// must satisfy.
type PIO interface {
	// NextCmdByte blocks until a full CMD byte has shifted in (LSB
	// first on the wire), or returns bus.ErrFrameCanceled if SEL rose
	// before the byte completed.
	NextCmdByte() (byte, error)

	// NextDatByte blocks until a full DAT byte has shifted in while
	// passively sniffing another device's frame, or returns
	// bus.ErrFrameCanceled if SEL rose first.
	NextDatByte() (byte, error)

	// SetDatByte latches b into the DAT shift register and arms the
	// ACK pulse for the byte pair currently in flight.
	SetDatByte(b byte)

	// SuppressAck arms the next byte pair to fire no ACK pulse.
	SuppressAck()

	// Reset restarts all four state machines to their initial
	// wait-for-clock position and clears their FIFOs. Safe to call
	// from interrupt context; never blocks.
	Reset()

	// MaskInterrupts / UnmaskInterrupts gate the SEL-rise interrupt
	// source, used around the reconnect pulse.
	MaskInterrupts()
	UnmaskInterrupts()

	// TristateDAT releases the DAT line for d, simulating a fresh
	// card insertion.
	TristateDAT(d time.Duration)
}

// Bus is a bus.Frontend backed by a PIO.
type Bus struct {
	pio PIO
}

// New returns a Bus driving pio.
func New(pio PIO) *Bus {
	return &Bus{pio: pio}
}

func (b *Bus) RecvCmd() (byte, error)   { return b.pio.NextCmdByte() }
func (b *Bus) RecvDat() (byte, error)   { return b.pio.NextDatByte() }
func (b *Bus) Send(v byte)              { b.pio.SetDatByte(v) }
func (b *Bus) SuppressAck()             { b.pio.SuppressAck() }
func (b *Bus) ResetFrame()              { b.pio.Reset() }
func (b *Bus) MaskInterrupts()          { b.pio.MaskInterrupts() }
func (b *Bus) UnmaskInterrupts()        { b.pio.UnmaskInterrupts() }
func (b *Bus) TristateDAT(d time.Duration) { b.pio.TristateDAT(d) }

var _ bus.Reconnector = (*Bus)(nil)
