// https://github.com/picomemcard/firmware
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package indicator

import (
	"sync"
	"testing"
	"time"
)

type recLED struct {
	mu       sync.Mutex
	patterns []Pattern
	codes    []int
}

func (l *recLED) Show(p Pattern) {
	l.mu.Lock()
	l.patterns = append(l.patterns, p)
	l.mu.Unlock()
}

func (l *recLED) ShowError(code int) {
	l.mu.Lock()
	l.codes = append(l.codes, code)
	l.mu.Unlock()
}

func TestChannelDeliversInOrder(t *testing.T) {
	led := &recLED{}
	c := NewChannel(led)

	c.Show(OutOfSync)
	c.Show(InSync)
	c.ShowError(4)

	deadline := time.Now().Add(2 * time.Second)
	for {
		led.mu.Lock()
		done := len(led.patterns) == 2 && len(led.codes) == 1
		led.mu.Unlock()
		if done {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("channel never delivered all requests")
		}
		time.Sleep(5 * time.Millisecond)
	}

	led.mu.Lock()
	defer led.mu.Unlock()

	if led.patterns[0] != OutOfSync || led.patterns[1] != InSync {
		t.Errorf("patterns delivered out of order: %v", led.patterns)
	}
	if led.codes[0] != 4 {
		t.Errorf("error code = %d, want 4", led.codes[0])
	}
}

func TestPatternNames(t *testing.T) {
	if InSync.String() != "in-sync" {
		t.Errorf("InSync.String() = %q", InSync.String())
	}
	if Pattern(99).String() != "unknown" {
		t.Errorf("unknown pattern String() = %q", Pattern(99).String())
	}
}
