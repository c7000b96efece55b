// https://github.com/picomemcard/firmware
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package card implements the in-memory mirror of the active card
// image: a 128 KiB buffer plus status flag byte, reused across image
// switches rather than reallocated.
package card

import (
	"fmt"
	"io"

	"github.com/picomemcard/firmware/bitops"
	"github.com/picomemcard/firmware/config"
)

// InitialFlag is the flag byte value on power-on: bit 3 set, meaning
// "new card inserted, not yet seen".
const InitialFlag byte = 1 << config.NewCardFlagBit

// Sector is a single 128-byte addressable unit.
type Sector = [config.SectorSize]byte

// Image is the active card's buffer and status byte. Image is not
// safe for concurrent mutation: only the engine goroutine ever
// writes into it, and only between a frame's SEL-fall and SEL-rise. Readers (the write-back pipeline) only ever
// read a sector whose bytes were published before that sector's index
// was enqueued, so no lock is needed on the buffer itself.
type Image struct {
	buf  [config.SectorCount]Sector
	Flag byte
}

// New returns a freshly zeroed Image with the power-on flag byte.
func New() *Image {
	img := &Image{Flag: InitialFlag}
	return img
}

// SectorValid reports whether idx addresses an in-range sector. It
// does not check against the write-test sector:
// callers that must exclude sector 63 (write-back enqueue) do so
// themselves, since reads of sector 63 are perfectly valid.
func SectorValid(idx uint16) bool {
	return idx < config.SectorCount
}

// Sector returns a pointer to the idx-th sector for read access.
// Callers must have already validated idx with SectorValid.
func (img *Image) Sector(idx uint16) *Sector {
	return &img.buf[idx]
}

// SectorMut returns a mutable pointer to the idx-th sector. Callers
// must have already validated idx with SectorValid.
func (img *Image) SectorMut(idx uint16) *Sector {
	return &img.buf[idx]
}

// ResetSeen clears bit 3 of the flag byte: the host has now performed
// at least one successful write since the card was last (re)inserted.
func (img *Image) ResetSeen() {
	bitops.Clear(&img.Flag, config.NewCardFlagBit)
}

// IsNew reports whether bit 3 of the flag byte is still set.
func (img *Image) IsNew() bool {
	return bitops.Get(&img.Flag, config.NewCardFlagBit)
}

// ReloadFrom performs a blocking full read of config.ImageSize bytes
// from r into the buffer, restoring the power-on flag byte. It is used
// by the switch/create path to repoint the reused buffer at a
// different .MCR file without reallocating it.
func (img *Image) ReloadFrom(r io.Reader) error {
	var flat [config.ImageSize]byte

	if _, err := io.ReadFull(r, flat[:]); err != nil {
		return fmt.Errorf("card: reload: %w", err)
	}

	for i := 0; i < config.SectorCount; i++ {
		copy(img.buf[i][:], flat[i*config.SectorSize:(i+1)*config.SectorSize])
	}

	img.Flag = InitialFlag

	return nil
}
