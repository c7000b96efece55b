// https://github.com/picomemcard/firmware
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package bus defines the contract between the serial front-end and
// the protocol engine that rides on top of it. The front-end demodulates the four PSX bus
// lines (SEL, CLK, CMD, DAT) plus the ACK pulse line into this byte
// oriented interface; concrete implementations live in bus/boardbus
// (bare-metal GPIO/PIO backend) and bus/linuxbus (Linux GPIO backend,
// for development and bench testing).
package bus

import (
	"errors"
	"time"
)

// ErrFrameCanceled is returned by RecvCmd/RecvDat when SEL rises while
// a read is pending. It is not a protocol error: the engine treats it
// as "go back to IDLE, the host will re-poll".
var ErrFrameCanceled = errors.New("bus: frame canceled")

// Frontend is the contract the protocol engine drives. All methods are
// safe to call only from the single engine goroutine, except
// ResetFrame, which is the ISR-context entry point and may run
// concurrently with a pending RecvCmd/RecvDat.
type Frontend interface {
	// RecvCmd blocks until the next full CMD byte of the current frame
	// is available, or returns ErrFrameCanceled if SEL rises first.
	RecvCmd() (byte, error)

	// RecvDat blocks until the next full DAT byte is available (used
	// only while passively sniffing another device's frame), or
	// returns ErrFrameCanceled if SEL rises first.
	RecvDat() (byte, error)

	// Send arms b as the next outgoing DAT byte and arms the ACK pulse
	// to fire after the last CMD bit of the exchange that byte
	// belongs to. Send must be called before the matching RecvCmd so
	// the outgoing byte and ACK are published before the host finishes
	// shifting the current CMD byte.
	Send(b byte)

	// SuppressAck guarantees no ACK pulse fires for the next byte
	// pair, signalling end-of-frame to the host.
	SuppressAck()

	// ResetFrame is the SEL-rising-edge handler: it clears both
	// direction FIFOs, rearms both channels to their initial
	// wait-for-clock state, and cancels any in-flight RecvCmd/RecvDat.
	// Highest priority, never blocks.
	ResetFrame()
}

// Platform supplies the board-specific line control the reconnect
// pulse needs: masking the SEL-rise interrupt and tristating DAT. The
// SD card + FAT stack sit behind catalog.Store and the LED behind
// indicator.LED, not here. Bus backends implement Platform alongside
// Frontend; the protocol engine never sees it directly.
type Platform interface {
	// MaskInterrupts disables the SEL-rising interrupt source for the
	// duration of a critical section: the reconnect pulse window must
	// not race a stray SEL rise.
	MaskInterrupts()

	// UnmaskInterrupts re-enables it.
	UnmaskInterrupts()

	// TristateDAT holds the DAT line in its high-impedance state for
	// d, simulating a card reconnect.
	TristateDAT(d time.Duration)
}

// Reconnector is the subset of Frontend+Platform the switch/create
// coordination in package writeback needs to simulate a card
// reconnect: mask interrupts, reset the serial machines, hold DAT
// tristated, then unmask.
type Reconnector interface {
	Frontend
	Platform
}
