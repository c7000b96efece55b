// https://github.com/picomemcard/firmware
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package config holds the compile-time constants of the memory card
// emulator. Like tamago board packages, configuration here is baked
// into the binary rather than read from flags, environment variables,
// or a file: the firmware has no console to read them from.
package config

import "time"

const (
	// SectorSize is the size in bytes of one addressable card sector.
	SectorSize = 128

	// SectorCount is the number of sectors on a card image.
	SectorCount = 1024

	// ImageSize is the total size in bytes of one .MCR image.
	ImageSize = SectorSize * SectorCount

	// TestSector is the write-test sector, never enqueued for sync.
	TestSector = 0x3F

	// NewCardFlagBit is the flag-byte bit meaning "new card inserted,
	// not yet seen".
	NewCardFlagBit = 3
)

const (
	// ReconnectPulse is how long the card feigns disconnection after an
	// image switch so the host re-reads the flag byte as on first
	// insertion.
	ReconnectPulse = 1000 * time.Millisecond

	// MaxFilenameLength is the maximum accepted length, in bytes, of a
	// catalog entry name.
	MaxFilenameLength = 32

	// MaxImageCount bounds how many .MCR images the catalog will index.
	MaxImageCount = 255

	// IdleSyncTimeout is how long the bus must be idle before the sync
	// pipeline opportunistically drains outside of the write path.
	IdleSyncTimeout = 5000 * time.Millisecond

	// MSCSyncTimeout is the write-coalescing window used when a USB
	// mass-storage surface is exposed over the same image store.
	MSCSyncTimeout = 1000 * time.Millisecond
)

// AckWindow is the maximum time the front-end has, after the trailing
// clock edge of a non-terminal byte, to assert the ACK pulse.
const AckWindow = 15 * time.Microsecond

// LastIndexFile is the sidecar file name storing the last-loaded image
// index, resolved relative to the mass-storage root.
const LastIndexFile = "LastMemcardIndex.dat"

// ImagePatternDescription describes the pattern that "^[0-9]+\\.MCR$" case-insensitively
// against the upper-cased stem; see catalog.isValidName for the exact
// check (kept as code rather than a compiled regexp to avoid pulling in
// regexp on a bare-metal build).
const ImagePatternDescription = `^[0-9]+\.MCR$ (case-insensitive)`
