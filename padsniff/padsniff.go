// https://github.com/picomemcard/firmware
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package padsniff decodes the passive controller side-channel:
// while a frame addresses device 0x01 (a digital controller) rather
// than 0x81 (a memory card), the engine never drives DAT, but it
// keeps listening on it long enough to recover the 16-bit button
// bitmap and recognize the combos that request an image switch.
package padsniff

import "sync"

// Button bit positions within the bitmap, 0 when pressed, in the
// standard digital-pad report order.
const (
	bitSelect   = 0
	bitStart    = 3
	bitUp       = 4
	bitDown     = 6
	bitTriangle = 12
)

// The recognized combos, as exact bitmap values: the named buttons
// pressed (0) and every other button released (1). Matching the whole
// bitmap rather than a subset means a hand resting on extra buttons
// never triggers a switch by accident.
const (
	comboNext uint16 = 0xFFFF &^ (1<<bitStart | 1<<bitSelect | 1<<bitUp)
	comboPrev uint16 = 0xFFFF &^ (1<<bitStart | 1<<bitSelect | 1<<bitDown)
	comboNew  uint16 = 0xFFFF &^ (1<<bitStart | 1<<bitSelect | 1<<bitTriangle)
)

// Intent is the image-switch request latched from a button combo.
type Intent int

const (
	// IntentNone means no combo was recognized this poll.
	IntentNone Intent = iota
	// IntentNext requests the next image in catalog order.
	IntentNext
	// IntentPrev requests the previous image in catalog order.
	IntentPrev
	// IntentNew requests creation of a fresh blank image.
	IntentNew
)

// Decode maps a polled button bitmap to the combo it represents:
// START+SELECT+UP is next, START+SELECT+DOWN is prev, and
// START+SELECT+TRIANGLE is new.
func Decode(bitmap uint16) Intent {
	switch bitmap {
	case comboNext:
		return IntentNext
	case comboPrev:
		return IntentPrev
	case comboNew:
		return IntentNew
	}
	return IntentNone
}

// Latch accumulates observed intents as single-bit flags for a
// consumer (the writeback pipeline) to pick up asynchronously from the
// engine goroutine that produces them. Duplicate requests collapse,
// and next+prev latched together cancel each other out.
type Latch struct {
	mu                 sync.Mutex
	next, prev, create bool

	wake chan struct{}
}

// NewLatch returns an empty Latch.
func NewLatch() *Latch {
	return &Latch{wake: make(chan struct{}, 1)}
}

// Wake returns a channel that receives a token whenever an intent is
// latched, so the consumer need not poll.
func (l *Latch) Wake() <-chan struct{} {
	return l.wake
}

// Observe decodes bitmap and, if it names a combo, latches it.
func (l *Latch) Observe(bitmap uint16) {
	intent := Decode(bitmap)
	if intent == IntentNone {
		return
	}

	l.mu.Lock()
	switch intent {
	case IntentNext:
		l.next = true
	case IntentPrev:
		l.prev = true
	case IntentNew:
		l.create = true
	}
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Take returns one latched intent and clears its flag; any other flag
// still latched is left for a later Take. Next and prev latched
// together annihilate (both are cleared); among survivors, direction
// switches take precedence over creation.
func (l *Latch) Take() Intent {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.next && l.prev {
		l.next, l.prev = false, false
	}

	switch {
	case l.next:
		l.next = false
		return IntentNext
	case l.prev:
		l.prev = false
		return IntentPrev
	case l.create:
		l.create = false
		return IntentNew
	}

	return IntentNone
}
