// https://github.com/picomemcard/firmware
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build !tamago

package indicator

import "log/slog"

var patternNames = map[Pattern]string{
	InSync:      "in-sync",
	OutOfSync:   "out-of-sync",
	ImageChange: "image-change",
	EndOfList:   "end-of-list",
	NewImage:    "new-image",
	Error:       "error",
}

// String returns the pattern's name.
func (p Pattern) String() string {
	if s, ok := patternNames[p]; ok {
		return s
	}
	return "unknown"
}

// ConsoleLED is an LED for hosted builds (the linuxbus development
// backend): patterns land in a structured log instead of on a GPIO.
// Bare-metal builds never link it; there the board LED driver is the
// only output.
type ConsoleLED struct {
	Log *slog.Logger
}

func (l ConsoleLED) logger() *slog.Logger {
	if l.Log != nil {
		return l.Log
	}
	return slog.Default()
}

func (l ConsoleLED) Show(pattern Pattern) {
	l.logger().Info("indicator", "pattern", pattern.String())
}

func (l ConsoleLED) ShowError(code int) {
	l.logger().Error("indicator", "pattern", "error", "code", code)
}
