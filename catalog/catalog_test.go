// https://github.com/picomemcard/firmware
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package catalog

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/picomemcard/firmware/bitops"
	"github.com/picomemcard/firmware/config"
)

func writeImageFile(t *testing.T, dir, name string, size int) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestCatalog(t *testing.T, names ...string) (*Catalog, string) {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		writeImageFile(t, dir, n, config.ImageSize)
	}
	return New(OSStore{Root: dir}), dir
}

func TestCountFiltersNonConforming(t *testing.T) {
	c, dir := newTestCatalog(t, "0.MCR", "1.mcr", "12.MCR")

	// Neither deleted nor renamed, just ignored.
	writeImageFile(t, dir, "SAVE.MCR", config.ImageSize)
	writeImageFile(t, dir, "3.MCR", config.ImageSize/2)
	writeImageFile(t, dir, "4.MCRX", config.ImageSize)
	writeImageFile(t, dir, config.LastIndexFile, 1)

	count, err := c.Count()
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("Count = %d, want 3", count)
	}
}

func TestGetOrdering(t *testing.T) {
	// Lexicographic over the upper-cased name: "12.MCR" before "2.MCR".
	c, _ := newTestCatalog(t, "2.MCR", "0.MCR", "12.MCR", "1.mcr")

	want := []string{"0.MCR", "1.mcr", "12.MCR", "2.MCR"}
	for i, w := range want {
		got, err := c.Get(i)
		if err != nil {
			t.Fatal(err)
		}
		if got != w {
			t.Errorf("Get(%d) = %q, want %q", i, got, w)
		}
	}

	if _, err := c.Get(len(want)); err == nil {
		t.Error("Get past the end did not fail")
	} else if code, _ := AsManagerError(err); code != CodeIndexOutOfBounds {
		t.Errorf("Get past the end: code %d, want %d", code, CodeIndexOutOfBounds)
	}
}

func TestNeighbors(t *testing.T) {
	c, _ := newTestCatalog(t, "0.MCR", "1.MCR", "2.MCR")

	// next(get(i)) == get(i+1), and symmetrically for prev.
	for i := 0; i < 2; i++ {
		cur, _ := c.Get(i)
		next, err := c.Next(cur)
		if err != nil {
			t.Fatal(err)
		}
		want, _ := c.Get(i + 1)
		if next != want {
			t.Errorf("Next(%q) = %q, want %q", cur, next, want)
		}
		back, err := c.Prev(next)
		if err != nil {
			t.Fatal(err)
		}
		if back != cur {
			t.Errorf("Prev(%q) = %q, want %q", next, back, cur)
		}
	}

	last, _ := c.Get(2)
	if _, err := c.Next(last); err == nil {
		t.Error("Next of last image did not fail")
	} else if code, _ := AsManagerError(err); code != CodeNoEntry {
		t.Errorf("Next of last: code %d, want %d", code, CodeNoEntry)
	}

	first, _ := c.Get(0)
	if _, err := c.Prev(first); err == nil {
		t.Error("Prev of first image did not fail")
	}

	if _, err := c.Next("99.MCR"); err == nil {
		t.Error("Next of unknown name did not fail")
	}

	if _, err := c.Next(""); err == nil {
		t.Error("Next of empty name did not fail")
	} else if code, _ := AsManagerError(err); code != CodeBadParam {
		t.Errorf("Next of empty name: code %d, want %d", code, CodeBadParam)
	}
}

func TestInitial(t *testing.T) {
	c, dir := newTestCatalog(t, "0.MCR", "1.MCR", "2.MCR")

	// No sidecar: the first image.
	name, err := c.Initial()
	if err != nil {
		t.Fatal(err)
	}
	if name != "0.MCR" {
		t.Errorf("Initial without sidecar = %q, want 0.MCR", name)
	}

	sidecar := filepath.Join(dir, config.LastIndexFile)

	if err := os.WriteFile(sidecar, []byte("1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if name, _ = c.Initial(); name != "1.MCR" {
		t.Errorf("Initial with sidecar 1 = %q, want 1.MCR", name)
	}

	// Stale index beyond the catalog clamps to the last image.
	if err := os.WriteFile(sidecar, []byte("99"), 0o644); err != nil {
		t.Fatal(err)
	}
	if name, _ = c.Initial(); name != "2.MCR" {
		t.Errorf("Initial with stale sidecar = %q, want 2.MCR", name)
	}

	// Garbage falls back to the first image.
	if err := os.WriteFile(sidecar, []byte("banana"), 0o644); err != nil {
		t.Fatal(err)
	}
	if name, _ = c.Initial(); name != "0.MCR" {
		t.Errorf("Initial with garbage sidecar = %q, want 0.MCR", name)
	}
}

func TestInitialEmptyCatalog(t *testing.T) {
	c, _ := newTestCatalog(t)

	if _, err := c.Initial(); err == nil {
		t.Fatal("Initial on empty catalog did not fail")
	} else if code, _ := AsManagerError(err); code != CodeNoEntry {
		t.Errorf("Initial on empty catalog: code %d, want %d", code, CodeNoEntry)
	}
}

// verifySectorChecksum checks the trailing XOR byte of a 128-byte
// sector.
func verifySectorChecksum(t *testing.T, idx int, sec []byte) {
	t.Helper()
	if got := bitops.XORAll(0, sec[:config.SectorSize-1]); got != sec[config.SectorSize-1] {
		t.Errorf("sector %d checksum = %#02x, want %#02x", idx, sec[config.SectorSize-1], got)
	}
}

func TestCreateBlankImage(t *testing.T) {
	c, dir := newTestCatalog(t)

	name, err := c.Create()
	if err != nil {
		t.Fatal(err)
	}
	if name != "0.MCR" {
		t.Fatalf("Create in empty root = %q, want 0.MCR", name)
	}

	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != config.ImageSize {
		t.Fatalf("image size = %d, want %d", len(data), config.ImageSize)
	}

	sector := func(i int) []byte {
		return data[i*config.SectorSize : (i+1)*config.SectorSize]
	}

	if hdr := sector(0); hdr[0] != 'M' || hdr[1] != 'C' {
		t.Errorf("header signature = % 02X, want 'M','C'", hdr[:2])
	}

	for i := 0; i < 64; i++ {
		verifySectorChecksum(t, i, sector(i))
	}

	for i := 1; i <= 15; i++ {
		ent := sector(i)
		if ent[0] != 0xA0 {
			t.Errorf("directory sector %d type = %#02x, want 0xa0 (free)", i, ent[0])
		}
		if ent[8] != 0xFF || ent[9] != 0xFF {
			t.Errorf("directory sector %d next-block = % 02X, want FF FF", i, ent[8:10])
		}
	}

	for i := 16; i <= 35; i++ {
		bad := sector(i)
		if !bytes.Equal(bad[:4], []byte{0xFF, 0xFF, 0xFF, 0xFF}) {
			t.Errorf("bad-sector sector %d sentinel = % 02X, want FF FF FF FF", i, bad[:4])
		}
		if bad[8] != 0xFF || bad[9] != 0xFF {
			t.Errorf("bad-sector sector %d bytes 8-9 = % 02X, want FF FF", i, bad[8:10])
		}
	}

	zero := make([]byte, config.SectorSize)
	for i := 36; i <= 62; i++ {
		if !bytes.Equal(sector(i), zero) {
			t.Errorf("sector %d not zero", i)
		}
	}

	if !bytes.Equal(sector(63), sector(0)) {
		t.Error("write-test sector differs from the header sector")
	}

	if !bytes.Equal(data[64*config.SectorSize:], make([]byte, config.ImageSize-64*config.SectorSize)) {
		t.Error("user-data area not zero")
	}

	sidecar, err := os.ReadFile(filepath.Join(dir, config.LastIndexFile))
	if err != nil {
		t.Fatal(err)
	}
	if string(sidecar) != "0" {
		t.Errorf("sidecar = %q, want \"0\"", sidecar)
	}
}

func TestCreateChoosesLowestFree(t *testing.T) {
	c, dir := newTestCatalog(t, "0.MCR", "1.MCR", "3.MCR")

	name, err := c.Create()
	if err != nil {
		t.Fatal(err)
	}
	if name != "2.MCR" {
		t.Fatalf("Create = %q, want 2.MCR", name)
	}

	sidecar, err := os.ReadFile(filepath.Join(dir, config.LastIndexFile))
	if err != nil {
		t.Fatal(err)
	}
	if string(sidecar) != "2" {
		t.Errorf("sidecar = %q, want \"2\"", sidecar)
	}
}

func TestCreateSkipsLowerCaseConflict(t *testing.T) {
	c, _ := newTestCatalog(t, "0.mcr")

	name, err := c.Create()
	if err != nil {
		t.Fatal(err)
	}
	if name != "1.MCR" {
		t.Fatalf("Create = %q, want 1.MCR", name)
	}
}

func TestWriteSector(t *testing.T) {
	dir := t.TempDir()
	writeImageFile(t, dir, "0.MCR", config.ImageSize)
	store := OSStore{Root: dir}

	sec := bytes.Repeat([]byte{0xEE}, config.SectorSize)
	if err := store.WriteSector("0.MCR", 2, sec); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "0.MCR"))
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != config.ImageSize {
		t.Fatalf("file size = %d after sector write, want %d", len(data), config.ImageSize)
	}
	if !bytes.Equal(data[2*config.SectorSize:3*config.SectorSize], sec) {
		t.Error("target sector not written")
	}
	if data[config.SectorSize] != 0 || data[3*config.SectorSize] != 0 {
		t.Error("sector write disturbed its neighbors")
	}

	if err := store.WriteSector("9.MCR", 0, sec); err == nil {
		t.Error("sector write to a missing file did not fail")
	}
}

func TestRecordLastIndex(t *testing.T) {
	c, dir := newTestCatalog(t, "0.MCR", "1.MCR")

	if err := c.RecordLastIndex(1); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, config.LastIndexFile))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "1" {
		t.Errorf("sidecar = %q, want \"1\"", data)
	}
}
