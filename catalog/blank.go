// https://github.com/picomemcard/firmware
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package catalog

import (
	"io"

	"github.com/picomemcard/firmware/bitops"
	"github.com/picomemcard/firmware/config"
)

// headerSector returns a sector carrying the 'M','C' signature
// followed by zeros and an XOR checksum trailer. Used for both the
// header sector (0) and the write-test sector (63), which are
// identical in a freshly created image.
func headerSector() [config.SectorSize]byte {
	var s [config.SectorSize]byte
	s[0] = 'M'
	s[1] = 'C'
	s[config.SectorSize-1] = bitops.XORAll(0, s[:config.SectorSize-1])
	return s
}

// freeDirectoryEntry returns a directory-entry sector marking a free
// block: type byte 0xA0, next-block pointer 0xFFFF, rest zero.
func freeDirectoryEntry() [config.SectorSize]byte {
	var s [config.SectorSize]byte
	s[0] = 0xA0
	s[8], s[9] = 0xFF, 0xFF
	s[config.SectorSize-1] = bitops.XORAll(0, s[:config.SectorSize-1])
	return s
}

// badSectorEntry returns a bad-sector-list sector with no bad sectors
// recorded: bytes 0-3 0xFF (sentinel), 4-7 zero, 8-9 0xFF, rest zero.
func badSectorEntry() [config.SectorSize]byte {
	var s [config.SectorSize]byte
	s[0], s[1], s[2], s[3] = 0xFF, 0xFF, 0xFF, 0xFF
	s[8], s[9] = 0xFF, 0xFF
	s[config.SectorSize-1] = bitops.XORAll(0, s[:config.SectorSize-1])
	return s
}

// writeBlankImage writes the standard 1024-sector blank layout to w:
// header, 15 free directory entries, 20 empty bad-sector entries, 27
// unused zero sectors, the write-test sector, and 960 zeroed
// user-data sectors.
func writeBlankImage(w io.Writer) error {
	write := func(s [config.SectorSize]byte) error {
		_, err := w.Write(s[:])
		return err
	}

	if err := write(headerSector()); err != nil {
		return err
	}

	dir := freeDirectoryEntry()
	for i := 0; i < 15; i++ {
		if err := write(dir); err != nil {
			return err
		}
	}

	bad := badSectorEntry()
	for i := 0; i < 20; i++ {
		if err := write(bad); err != nil {
			return err
		}
	}

	var zero [config.SectorSize]byte
	for i := 0; i < 27; i++ {
		if err := write(zero); err != nil {
			return err
		}
	}

	if err := write(headerSector()); err != nil {
		return err
	}

	for i := 0; i < config.SectorCount-64; i++ {
		if err := write(zero); err != nil {
			return err
		}
	}

	return nil
}
