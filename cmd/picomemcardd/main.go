// https://github.com/picomemcard/firmware
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build linux

// picomemcardd is the hosted composition root: the protocol engine and
// sync pipeline wired to the linuxbus GPIO backend and a mounted
// directory standing in for the SD card, for development on an SBC
// wired to a PSX bus. A bare-metal board build composes the same
// packages over bus/boardbus and a board Store instead.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/picomemcard/firmware/bus/linuxbus"
	"github.com/picomemcard/firmware/card"
	"github.com/picomemcard/firmware/catalog"
	"github.com/picomemcard/firmware/engine"
	"github.com/picomemcard/firmware/indicator"
	"github.com/picomemcard/firmware/padsniff"
	"github.com/picomemcard/firmware/writeback"
)

// Board wiring, fixed at build time the way firmware configuration is.
const (
	pinDAT = "GPIO5"
	pinCMD = "GPIO6"
	pinSEL = "GPIO7"
	pinCLK = "GPIO8"
	pinACK = "GPIO9"

	storageRoot = "/mnt/memcards"
)

// fatal enters the terminal error-blink loop: the device stops
// responding on the bus and signals the code forever.
func fatal(led indicator.LED, code int) {
	for {
		led.ShowError(code)
		time.Sleep(2 * time.Second)
	}
}

func main() {
	led := indicator.ConsoleLED{Log: slog.Default()}

	b, err := linuxbus.Open(linuxbus.PinNames{
		DAT: pinDAT, CMD: pinCMD, SEL: pinSEL, CLK: pinCLK, ACK: pinACK,
	})
	if err != nil {
		slog.Error("bus bring-up", "err", err)
		fatal(led, int(indicator.NoInit))
	}

	store := catalog.OSStore{Root: storageRoot}
	if _, err := store.List(); err != nil {
		slog.Error("storage root", "err", err)
		fatal(led, int(indicator.MountErr))
	}

	var (
		cat   = catalog.New(store)
		image = card.New()
		pad   = padsniff.NewLatch()
		leds  = indicator.NewChannel(led)
		tx    sync.Mutex
	)

	manager := writeback.New(store, cat, b, image, pad, leds, &tx)

	if err := manager.LoadInitial(); err != nil {
		slog.Error("initial image", "err", err)
		code := int(indicator.FileReadErr)
		if mm, ok := catalog.AsManagerError(err); ok {
			code = mm
		}
		fatal(led, code)
	}

	eng := engine.New(b, image, manager.Queue(), pad, &tx)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go func() {
		_ = eng.Run(ctx)
	}()

	manager.Run(ctx)
}
