// https://github.com/picomemcard/firmware
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package catalog implements the image manager: a pure function layer
// over the mass-storage root that enumerates, orders, and creates
// .MCR card images.
package catalog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/picomemcard/firmware/config"
)

// Error is a catalog failure tagged with an image-manager error
// code.
type Error struct {
	Code int
	msg  string
}

func (e *Error) Error() string { return e.msg }

func errf(code int, format string, args ...any) error {
	return &Error{Code: code, msg: fmt.Sprintf(format, args...)}
}

const (
	CodeAllocFail        = 1
	CodeIndexOutOfBounds = 2
	CodeNoEntry          = 3
	CodeBadParam         = 4
	CodeNameConflict     = 5
	CodeFileOpenErr      = 6
	CodeFileWriteErr     = 7
)

// Catalog enumerates and mutates the .MCR images on a Store.
type Catalog struct {
	store Store
}

// New returns a Catalog backed by store.
func New(store Store) *Catalog {
	return &Catalog{store: store}
}

// isValidName reports whether name, upper-cased, matches ^[0-9]+\.MCR$.
func isValidName(name string) bool {
	if name == "" || len(name) > config.MaxFilenameLength {
		return false
	}

	upper := strings.ToUpper(name)

	stem, ok := strings.CutSuffix(upper, ".MCR")
	if !ok || stem == "" {
		return false
	}

	for _, r := range stem {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}

// names returns the valid, size-checked image names, sorted
// lexicographically over their upper-cased form.
func (c *Catalog) names() ([]string, error) {
	entries, err := c.store.List()
	if err != nil {
		return nil, errf(CodeFileOpenErr, "catalog: %v", err)
	}

	var names []string

	for _, e := range entries {
		if e.Size != config.ImageSize {
			continue
		}
		if !isValidName(e.Name) {
			continue
		}
		names = append(names, e.Name)
	}

	sort.Slice(names, func(i, j int) bool {
		return strings.ToUpper(names[i]) < strings.ToUpper(names[j])
	})

	if len(names) > config.MaxImageCount {
		names = names[:config.MaxImageCount]
	}

	return names, nil
}

// Count returns the number of valid card images in the root.
func (c *Catalog) Count() (int, error) {
	names, err := c.names()
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

// Get returns the index-th name in lexicographic order.
func (c *Catalog) Get(index int) (string, error) {
	names, err := c.names()
	if err != nil {
		return "", err
	}

	if index < 0 || index >= len(names) {
		return "", errf(CodeIndexOutOfBounds, "catalog: index %d out of bounds (count %d)", index, len(names))
	}

	return names[index], nil
}

// Next returns the neighbor following name in lexicographic order.
func (c *Catalog) Next(name string) (string, error) {
	return c.neighbor(name, 1)
}

// Prev returns the neighbor preceding name in lexicographic order.
func (c *Catalog) Prev(name string) (string, error) {
	return c.neighbor(name, -1)
}

func (c *Catalog) neighbor(name string, delta int) (string, error) {
	if name == "" {
		return "", errf(CodeBadParam, "catalog: empty name")
	}

	names, err := c.names()
	if err != nil {
		return "", err
	}

	for i, n := range names {
		if n != name {
			continue
		}

		j := i + delta
		if j < 0 || j >= len(names) {
			return "", errf(CodeNoEntry, "catalog: no neighbor of %q", name)
		}

		return names[j], nil
	}

	return "", errf(CodeNoEntry, "catalog: %q not in catalog", name)
}

// Initial reads the last-loaded index sidecar, clamps it into
// [0, count), and resolves it to a name. If the sidecar is absent or
// unparsable, index 0 is assumed.
func (c *Catalog) Initial() (string, error) {
	count, err := c.Count()
	if err != nil {
		return "", err
	}

	if count == 0 {
		return "", errf(CodeNoEntry, "catalog: no images present")
	}

	index := 0

	if data, err := c.store.ReadFile(config.LastIndexFile); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
			index = n
		}
	}

	if index < 0 {
		index = 0
	}
	if index >= count {
		index = count - 1
	}

	return c.Get(index)
}

// recordLastIndex persists the index of name as the last-loaded image.
func (c *Catalog) recordLastIndex(name string) error {
	names, err := c.names()
	if err != nil {
		return err
	}

	for i, n := range names {
		if n == name {
			return c.store.WriteFile(config.LastIndexFile, []byte(strconv.Itoa(i)))
		}
	}

	return nil
}

// RecordLastIndex persists index as the last-loaded image index as
// given, without resolving it against the catalog. The switch
// coordination in package writeback calls it with the index it has
// already looked up.
func (c *Catalog) RecordLastIndex(index int) error {
	return c.store.WriteFile(config.LastIndexFile, []byte(strconv.Itoa(index)))
}

// Create chooses the lowest integer n >= 0 such that n.MCR does not
// exist, creates it with the standard blank layout, and records it as
// the last-loaded image. It returns the new name.
func (c *Catalog) Create() (string, error) {
	names, err := c.names()
	if err != nil {
		return "", err
	}

	existing := make(map[string]bool, len(names))
	for _, n := range names {
		existing[strings.ToUpper(n)] = true
	}

	var name string
	var w io.WriteCloser

	for n := 0; n < config.MaxImageCount; n++ {
		candidate := fmt.Sprintf("%d.MCR", n)
		if existing[strings.ToUpper(candidate)] {
			continue
		}
		// A non-conforming file may already hold the name.
		w, err = c.store.Create(candidate)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", errf(CodeFileOpenErr, "catalog: create %s: %v", candidate, err)
		}
		name = candidate
		break
	}

	if name == "" {
		return "", errf(CodeNameConflict, "catalog: no free image name below %d", config.MaxImageCount)
	}
	defer w.Close()

	if err := writeBlankImage(w); err != nil {
		return "", errf(CodeFileWriteErr, "catalog: write %s: %v", name, err)
	}

	// The new name's position is not necessarily the end of the list:
	// the order is lexicographic, so "2.MCR" sorts after "10.MCR".
	if err := c.recordLastIndex(name); err != nil {
		return "", errf(CodeFileWriteErr, "catalog: update last index: %v", err)
	}

	return name, nil
}

// AsManagerError extracts the image-manager error code from err, if
// any.
func AsManagerError(err error) (int, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code, true
	}
	return 0, false
}
