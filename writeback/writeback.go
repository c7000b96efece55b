// https://github.com/picomemcard/firmware
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package writeback implements the durability pipeline: a bounded
// dirty-sector queue drained into the current .MCR file, coordinated
// against image switch/create through a mutex so a write transaction
// in flight and an image switch can never interleave. Named writeback
// rather than "sync" to keep clear of the standard library package of
// that name.
package writeback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/picomemcard/firmware/bus"
	"github.com/picomemcard/firmware/card"
	"github.com/picomemcard/firmware/catalog"
	"github.com/picomemcard/firmware/config"
	"github.com/picomemcard/firmware/indicator"
	"github.com/picomemcard/firmware/padsniff"
)

// Queue is the bounded, deduplicating dirty-sector FIFO. A sector
// already pending is not queued twice: draining it once writes back
// its latest contents, so a second mark before drain is redundant.
// Push runs on the engine goroutine and drain on the sync goroutine,
// so the queue carries its own lock; that lock is also the
// release/acquire edge between the buffer mutation and the drain
// that reads it.
type Queue struct {
	mu      sync.Mutex
	pending map[uint16]struct{}
	order   []uint16
	wake    chan struct{}
}

// NewQueue returns an empty Queue with capacity for a full card's
// worth of sectors, so a worst-case whole-image rewrite cannot
// overflow it.
func NewQueue() *Queue {
	return &Queue{
		pending: make(map[uint16]struct{}, config.SectorCount),
		order:   make([]uint16, 0, config.SectorCount),
		wake:    make(chan struct{}, 1),
	}
}

// Push marks sector dirty. Called only from the engine goroutine,
// after a write transaction has committed the sector into the
// card.Image buffer.
func (q *Queue) Push(sector uint16) {
	q.mu.Lock()

	if _, dup := q.pending[sector]; dup {
		q.mu.Unlock()
		return
	}
	if len(q.order) >= config.SectorCount {
		q.mu.Unlock()
		panic("writeback: dirty queue overflow")
	}
	q.pending[sector] = struct{}{}
	q.order = append(q.order, sector)

	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// drain removes and returns every currently pending sector index, in
// the order they were marked.
func (q *Queue) drain() []uint16 {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.order) == 0 {
		return nil
	}
	out := q.order
	q.order = make([]uint16, 0, config.SectorCount)
	q.pending = make(map[uint16]struct{}, config.SectorCount)
	return out
}

func (q *Queue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order) == 0
}

// Manager owns the active image's on-disk identity, the dirty queue
// draining into it, and the switch/create coordination that the pad
// side-channel and any other caller (e.g. a mass-storage presence
// hook) triggers through the latched intents.
type Manager struct {
	store   catalog.Store
	catalog *catalog.Catalog
	bus     bus.Reconnector
	image   *card.Image
	queue   *Queue
	pad     *padsniff.Latch
	led     *indicator.Channel

	// tx is the switch mutex shared with the engine: the engine holds
	// it for the whole of a write transaction, this side for the whole
	// of a switch or create.
	tx *sync.Mutex

	current string

	errLimiter *rate.Limiter
}

// New returns a Manager for image, backed by store/cat, coordinating
// reconnect pulses through busReconnector and reporting faults via
// led. tx must be the same mutex the engine runs write transactions
// under. pad supplies latched switch intents.
func New(store catalog.Store, cat *catalog.Catalog, busReconnector bus.Reconnector, image *card.Image, pad *padsniff.Latch, led *indicator.Channel, tx *sync.Mutex) *Manager {
	return &Manager{
		store:      store,
		catalog:    cat,
		bus:        busReconnector,
		image:      image,
		queue:      NewQueue(),
		pad:        pad,
		led:        led,
		tx:         tx,
		errLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Queue returns the dirty-sector queue the engine enqueues into.
func (m *Manager) Queue() *Queue { return m.queue }

// LoadInitial opens the catalog's initial image into the live buffer.
// Must be called once before Run.
func (m *Manager) LoadInitial() error {
	name, err := m.catalog.Initial()
	if err != nil {
		return fmt.Errorf("writeback: initial image: %w", err)
	}
	return m.load(name)
}

func (m *Manager) load(name string) error {
	r, err := m.store.Open(name)
	if err != nil {
		return fmt.Errorf("writeback: open %s: %w", name, err)
	}
	defer r.Close()

	if err := m.image.ReloadFrom(r); err != nil {
		return fmt.Errorf("writeback: load %s: %w", name, err)
	}

	m.current = name
	return nil
}

// Run drives the queue drain, the idle-sync timer and the padsniff
// intent dispatch until ctx is canceled. It never returns an error:
// persistent failures are reported through the indicator channel,
// rate-limited, and otherwise swallowed; durability errors never
// escape as text.
func (m *Manager) Run(ctx context.Context) {
	m.led.Show(indicator.InSync)

	timer := time.NewTimer(config.IdleSyncTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.flush()
			return

		case <-m.queue.wake:
			if !timer.Stop() {
				<-timer.C
			}
			m.flush()
			timer.Reset(config.IdleSyncTimeout)

		case <-m.pad.Wake():
			if intent := m.pad.Take(); intent != padsniff.IntentNone {
				m.handleIntent(intent)
			}

		case <-timer.C:
			if !m.queue.empty() {
				m.flush()
			}
			timer.Reset(config.IdleSyncTimeout)
		}
	}
}

// flush writes every pending dirty sector back to the current image
// file, one seek+write per sector, tracking the in/out-of-sync LED
// state across the drain. Sector granularity keeps the blast radius
// of a power loss or short write to the sector being drained; the
// rest of the file is never rewritten.
func (m *Manager) flush() {
	dirty := m.queue.drain()
	if len(dirty) == 0 {
		return
	}

	m.led.Show(indicator.OutOfSync)

	if err := m.flushSectors(dirty); err != nil {
		// The entries are dropped, not retried: the host's next write
		// of the same sector re-enqueues it.
		m.reportError(err)
		return
	}

	m.led.Show(indicator.InSync)
}

func (m *Manager) flushSectors(dirty []uint16) error {
	for _, idx := range dirty {
		sec := m.image.Sector(idx)
		if err := m.store.WriteSector(m.current, int(idx), sec[:]); err != nil {
			return fmt.Errorf("writeback: write %s sector %d: %w", m.current, idx, err)
		}
	}

	return nil
}

// handleIntent acts on a latched padsniff combo: Next/Prev switch the
// active image, New creates and switches to a fresh blank one.
func (m *Manager) handleIntent(intent padsniff.Intent) {
	var err error

	switch intent {
	case padsniff.IntentNext:
		if err = m.switchTo(func() (string, error) { return m.catalog.Next(m.current) }); err == nil {
			m.led.Show(indicator.ImageChange)
		}
	case padsniff.IntentPrev:
		if err = m.switchTo(func() (string, error) { return m.catalog.Prev(m.current) }); err == nil {
			m.led.Show(indicator.ImageChange)
		}
	case padsniff.IntentNew:
		if err = m.switchTo(m.catalog.Create); err == nil {
			m.led.Show(indicator.NewImage)
		}
	}

	if err != nil {
		if code, ok := catalog.AsManagerError(err); ok && code == catalog.CodeNoEntry {
			m.led.Show(indicator.EndOfList)
			return
		}
		m.reportError(err)
	}
}

// switchTo takes the switch mutex (blocking out any write transaction
// in flight), drains the queue dry, resolves the next image name via
// resolve, and performs the reconnect: interrupts masked, frame state
// reset, the new image loaded, DAT tristated long enough to look like
// a fresh card insertion. The last-loaded sidecar is updated inside
// the same critical section.
func (m *Manager) switchTo(resolve func() (string, error)) error {
	m.tx.Lock()
	defer m.tx.Unlock()

	m.flush()

	name, err := resolve()
	if err != nil {
		return err
	}

	m.bus.MaskInterrupts()
	defer m.bus.UnmaskInterrupts()

	m.bus.ResetFrame()

	if err := m.load(name); err != nil {
		return err
	}

	m.bus.TristateDAT(config.ReconnectPulse)

	if idx := m.indexOfCurrent(); idx >= 0 {
		return m.catalog.RecordLastIndex(idx)
	}
	return nil
}

// indexOfCurrent resolves the current image's position for the last-
// loaded sidecar, or -1 if the lookup fails; a lookup failure just
// skips the bookkeeping write, since Initial() tolerates an
// absent/stale sidecar.
func (m *Manager) indexOfCurrent() int {
	count, err := m.catalog.Count()
	if err != nil {
		return -1
	}
	for i := 0; i < count; i++ {
		name, err := m.catalog.Get(i)
		if err == nil && name == m.current {
			return i
		}
	}
	return -1
}

func (m *Manager) reportError(err error) {
	if !m.errLimiter.Allow() {
		return
	}
	if code, ok := catalog.AsManagerError(err); ok {
		m.led.ShowError(code)
		return
	}
	m.led.ShowError(int(indicator.FileWriteErr))
}
