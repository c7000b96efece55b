// https://github.com/picomemcard/firmware
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package indicator drives the single status LED (or WS2812 RGB LED)
// that is the only user-visible channel of this firmware: the engine
// never surfaces protocol errors, so every observable signal besides
// the bus itself passes through here.
package indicator

// Pattern is one of the status patterns the LED can render.
type Pattern int

const (
	// InSync: solid on (green).
	InSync Pattern = iota
	// OutOfSync: off / yellow.
	OutOfSync
	// ImageChange: single short blink / solid blue ~100ms.
	ImageChange
	// EndOfList: three short blinks / orange ~500ms.
	EndOfList
	// NewImage: ten fast blinks / cyan ~1s.
	NewImage
	// Error: off 500ms then code half-second blinks (red).
	Error
)

// SyncError is a sync-pipeline error code.
type SyncError int

const (
	MountErr     SyncError = 1
	FileOpenErr  SyncError = 2
	FileReadErr  SyncError = 3
	FileWriteErr SyncError = 4
	FileSizeErr  SyncError = 5
	NoInit       SyncError = 6
)

// ManagerError is an image-manager error code.
type ManagerError int

const (
	AllocFail         ManagerError = 1
	IndexOutOfBounds  ManagerError = 2
	NoEntry           ManagerError = 3
	BadParam          ManagerError = 4
	NameConflict      ManagerError = 5
	ManagerFileOpen   ManagerError = 6
	ManagerFileWrite  ManagerError = 7
)

// LED is the driver contract a board backend implements. It is
// intentionally tiny: the indicator is a dumb output device, never a
// source of truth, so nothing here blocks on bus or file-system state.
type LED interface {
	// Show renders pattern, blocking for the pattern's natural duration
	// (e.g. the three short blinks of EndOfList) and returning
	// immediately for steady patterns (InSync, OutOfSync).
	Show(pattern Pattern)

	// ShowError renders the error pattern for the given code: off
	// 500ms, then code half-second blinks.
	ShowError(code int)
}

// Channel wraps an LED with the non-blocking semantics the sync
// pipeline needs: Show/ShowError are dispatched to a small bounded
// queue (8 requests) so a slow blink pattern never backs up the drain
// loop that feeds it.
type Channel struct {
	led   LED
	queue chan func()
}

// NewChannel starts a Channel backed by led. The returned Channel owns
// a goroutine for the lifetime of the process.
func NewChannel(led LED) *Channel {
	c := &Channel{
		led:   led,
		queue: make(chan func(), 8),
	}
	go c.run()
	return c
}

func (c *Channel) run() {
	for fn := range c.queue {
		fn()
	}
}

// Show requests pattern be displayed. Non-blocking: if the queue is
// full the oldest pending request is dropped in favor of the newest,
// since indicator state is a hint, not a log.
func (c *Channel) Show(pattern Pattern) {
	c.enqueue(func() { c.led.Show(pattern) })
}

// ShowError requests the error pattern for code.
func (c *Channel) ShowError(code int) {
	c.enqueue(func() { c.led.ShowError(code) })
}

func (c *Channel) enqueue(fn func()) {
	select {
	case c.queue <- fn:
	default:
		select {
		case <-c.queue:
		default:
		}
		select {
		case c.queue <- fn:
		default:
		}
	}
}
