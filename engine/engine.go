// https://github.com/picomemcard/firmware
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package engine implements the memory-card protocol state machine:
// a single goroutine built directly on the blocking bus.Frontend
// contract, so the whole command vocabulary reads as ordinary
// sequential Go rather than a per-byte tick callback.
package engine

import (
	"context"
	"sync"

	"github.com/picomemcard/firmware/bus"
	"github.com/picomemcard/firmware/card"
	"github.com/picomemcard/firmware/config"
)

// Wire constants of the memory-card command vocabulary.
const (
	cmdMemcardWake = 0x81
	cmdPadWake     = 0x01

	cmdRead     = 0x52
	cmdWrite    = 0x57
	cmdIdentify = 0x53
	cmdPing     = 0x20
	cmdGameID   = 0x21

	padPoll = 0x42

	mcID1     = 0x5A
	mcID2     = 0x5D
	mcACK1    = 0x5C
	mcACK2    = 0x5D
	mcGood    = 0x47
	mcBadChk  = 0x4E
	mcInvalid = 0xFF

	pingTerminator = 0x27
)

// identifyPayload is the fixed 6-byte reply to the identify command.
var identifyPayload = [...]byte{mcACK1, mcACK2, 0x04, 0x00, 0x00, 0x80}

// DirtyQueue receives sector indices committed by a successful write,
// for the write-back pipeline (package writeback) to drain. Declared
// here, narrowly, so engine does not need to import writeback.
type DirtyQueue interface {
	Push(sector uint16)
}

// PadObserver receives a polled controller button bitmap. Satisfied by
// *padsniff.Latch.
type PadObserver interface {
	Observe(bitmap uint16)
}

// Engine is the protocol state machine. It owns no state of its own
// beyond what a single frame needs; all persistent state lives in the
// card.Image it is given. tx is the switch mutex shared with the
// writeback Manager: the engine holds it for the whole of a write
// transaction, so an image swap can never interleave with a host
// write in flight.
type Engine struct {
	bus   bus.Frontend
	image *card.Image
	queue DirtyQueue
	pad   PadObserver
	tx    *sync.Mutex
}

// New returns an Engine driving b, reading/writing image, enqueuing
// dirty sectors into queue, and reporting sniffed controller polls to
// pad. tx must be the same mutex the writeback Manager switches under.
func New(b bus.Frontend, image *card.Image, queue DirtyQueue, pad PadObserver, tx *sync.Mutex) *Engine {
	return &Engine{bus: b, image: image, queue: queue, pad: pad, tx: tx}
}

// Run serves frames until ctx is canceled. It never returns an error
// for a single bad or foreign frame: those are silently absorbed and
// the loop goes back to IDLE for the host to re-poll.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		e.serveFrame()
	}
}

// exchange arms send as the outgoing DAT byte and completes the
// exchange by receiving the CMD byte it is paired with, returning the
// latter. Every response byte below goes through it except a frame's
// last, which has no later CMD byte to pair with and is left armed
// for the closing clocks.
func (e *Engine) exchange(send byte) (byte, error) {
	e.bus.Send(send)
	return e.bus.RecvCmd()
}

// serveFrame waits for a wake byte and dispatches to the memory-card
// or controller-sniffing path. Any other first byte, or a
// bus.ErrFrameCanceled, simply returns to let the caller loop back to
// IDLE for the next frame. Nothing is driven onto DAT until the frame
// is known to address the memory card.
func (e *Engine) serveFrame() {
	b, err := e.bus.RecvCmd()
	if err != nil {
		return
	}

	switch b {
	case cmdMemcardWake:
		e.serveMemoryCard()
	case cmdPadWake:
		e.bus.SuppressAck()
		e.servePad()
	}
}

func (e *Engine) serveMemoryCard() {
	cmd, err := e.exchange(e.image.Flag)
	if err != nil {
		return
	}

	switch cmd {
	case cmdRead, cmdWrite, cmdIdentify, cmdPing, cmdGameID:
	default:
		e.bus.Send(mcInvalid)
		return
	}

	if _, err := e.exchange(mcID1); err != nil {
		return
	}
	if _, err := e.exchange(mcID2); err != nil {
		return
	}

	switch cmd {
	case cmdRead:
		e.serveRead()
	case cmdWrite:
		e.serveWrite()
	case cmdIdentify:
		e.serveIdentify()
	case cmdPing:
		e.servePing()
	case cmdGameID:
		e.serveGameID()
	}
}

// recvAddress runs the RECV_ADDR phase shared by read and write: a
// filler byte answered with 0x00, then the sector MSB (echoed while
// the LSB shifts in). The response to the LSB itself differs between
// read and write, so it is left to the caller.
func (e *Engine) recvAddress() (sector uint16, err error) {
	msb, err := e.exchange(0x00)
	if err != nil {
		return 0, err
	}

	lsb, err := e.exchange(msb)
	if err != nil {
		return 0, err
	}

	return uint16(msb)<<8 | uint16(lsb), nil
}

// abortFrame sends the two 0xFF bytes that tell the host the sector
// address was rejected, and returns to IDLE.
func (e *Engine) abortFrame() {
	if _, err := e.exchange(mcInvalid); err != nil {
		return
	}
	e.bus.Send(mcInvalid)
}

func (e *Engine) serveRead() {
	sector, err := e.recvAddress()
	if err != nil {
		return
	}

	if _, err := e.exchange(mcACK1); err != nil {
		return
	}
	if _, err := e.exchange(mcACK2); err != nil {
		return
	}

	if !card.SectorValid(sector) {
		e.abortFrame()
		return
	}

	if _, err := e.exchange(byte(sector >> 8)); err != nil {
		return
	}
	if _, err := e.exchange(byte(sector)); err != nil {
		return
	}

	checksum := byte(sector>>8) ^ byte(sector)
	sec := e.image.Sector(sector)

	for i := 0; i < config.SectorSize; i++ {
		checksum ^= sec[i]
		if _, err := e.exchange(sec[i]); err != nil {
			return
		}
	}

	if _, err := e.exchange(checksum); err != nil {
		return
	}

	e.bus.SuppressAck()
	e.bus.Send(mcGood)
}

func (e *Engine) serveWrite() {
	e.tx.Lock()
	defer e.tx.Unlock()

	sector, err := e.recvAddress()
	if err != nil {
		return
	}

	// Echo the LSB; the byte clocking in alongside it is already the
	// first payload byte.
	b, err := e.exchange(byte(sector))
	if err != nil {
		return
	}

	if !card.SectorValid(sector) {
		e.abortFrame()
		return
	}

	// The payload is staged locally and committed whole, so a SEL rise
	// mid-transfer leaves the image buffer untouched.
	var staged card.Sector
	checksum := byte(sector>>8) ^ byte(sector)

	for i := 0; i < config.SectorSize; i++ {
		staged[i] = b
		checksum ^= b

		b, err = e.exchange(b)
		if err != nil {
			return
		}
	}

	recvChecksum := b

	if _, err := e.exchange(mcACK1); err != nil {
		return
	}

	// Commit point: the sector bytes reach the image buffer even on a
	// checksum mismatch, since the host's retry overwrites them anyway.
	// Seen-flag and enqueue are reserved for writes the host will
	// observe as good.
	copy(e.image.SectorMut(sector)[:], staged[:])

	good := recvChecksum == checksum
	if good {
		e.image.ResetSeen()
		if sector != config.TestSector {
			e.queue.Push(sector)
		}
	}

	if _, err := e.exchange(mcACK2); err != nil {
		return
	}

	e.bus.SuppressAck()
	if good {
		e.bus.Send(mcGood)
	} else {
		e.bus.Send(mcBadChk)
	}
}

func (e *Engine) serveIdentify() {
	last := len(identifyPayload) - 1
	for _, b := range identifyPayload[:last] {
		if _, err := e.exchange(b); err != nil {
			return
		}
	}
	e.bus.Send(identifyPayload[last])
}

// servePing answers the extension ping command with two reserved
// zero bytes and a "card present" terminator.
func (e *Engine) servePing() {
	for i := 0; i < 2; i++ {
		if _, err := e.exchange(0x00); err != nil {
			return
		}
	}
	e.bus.SuppressAck()
	e.bus.Send(pingTerminator)
}

// serveGameID consumes the extension game-id command: a length byte
// followed by that many payload bytes. The command is passive:
// reserved zeros go out while the payload shifts in, nothing of the
// card's state changes, and the payload itself is not interpreted. It
// exists for host-side software, not for this firmware.
func (e *Engine) serveGameID() {
	n, err := e.exchange(0x00)
	if err != nil {
		return
	}

	for i := 0; i < int(n); i++ {
		if _, err := e.exchange(0x00); err != nil {
			return
		}
	}

	e.bus.SuppressAck()
	e.bus.Send(mcGood)
}

// servePad runs PAD_WAIT_CMD/PAD_COLLECT: confirm the poll command,
// discard the DAT bytes shifted in before the button bitmap (the
// bus-idle byte of the wake exchange plus the device's two identity
// bytes), then latch the two status bytes. DAT is never driven.
func (e *Engine) servePad() {
	cmd, err := e.bus.RecvCmd()
	if err != nil || cmd != padPoll {
		return
	}

	for i := 0; i < 3; i++ {
		if _, err := e.bus.RecvDat(); err != nil {
			return
		}
	}

	lo, err := e.bus.RecvDat()
	if err != nil {
		return
	}
	hi, err := e.bus.RecvDat()
	if err != nil {
		return
	}

	e.pad.Observe(uint16(lo) | uint16(hi)<<8)
}
