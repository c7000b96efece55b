// https://github.com/picomemcard/firmware
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package card

import (
	"bytes"
	"testing"

	"github.com/picomemcard/firmware/config"
)

func TestFlagLifecycle(t *testing.T) {
	img := New()

	if img.Flag != 0x08 {
		t.Fatalf("power-on flag = %#02x, want 0x08", img.Flag)
	}
	if !img.IsNew() {
		t.Fatal("fresh image not marked new")
	}

	img.ResetSeen()

	if img.IsNew() {
		t.Error("flag bit 3 still set after ResetSeen")
	}
	if img.Flag != 0x00 {
		t.Errorf("flag = %#02x after ResetSeen, want 0x00", img.Flag)
	}
}

func TestSectorValid(t *testing.T) {
	cases := []struct {
		idx  uint16
		want bool
	}{
		{0, true},
		{config.TestSector, true},
		{config.SectorCount - 1, true},
		{config.SectorCount, false},
		{0xFFFF, false},
	}

	for _, c := range cases {
		if got := SectorValid(c.idx); got != c.want {
			t.Errorf("SectorValid(%d) = %v, want %v", c.idx, got, c.want)
		}
	}
}

func TestReloadFrom(t *testing.T) {
	img := New()
	img.ResetSeen()
	img.SectorMut(5)[0] = 0xAA

	raw := make([]byte, config.ImageSize)
	for i := range raw {
		raw[i] = byte(i / config.SectorSize)
	}

	if err := img.ReloadFrom(bytes.NewReader(raw)); err != nil {
		t.Fatal(err)
	}

	if img.Flag != InitialFlag {
		t.Errorf("flag = %#02x after reload, want %#02x", img.Flag, InitialFlag)
	}

	for _, idx := range []uint16{0, 5, 255, config.SectorCount - 1} {
		sec := img.Sector(idx)
		for i, b := range sec {
			if b != byte(idx) {
				t.Fatalf("sector %d byte %d = %#02x, want %#02x", idx, i, b, byte(idx))
			}
		}
	}
}

func TestReloadFromShortRead(t *testing.T) {
	img := New()
	img.SectorMut(0)[0] = 0x42

	raw := make([]byte, config.ImageSize/2)

	if err := img.ReloadFrom(bytes.NewReader(raw)); err == nil {
		t.Fatal("short reload did not fail")
	}
}
