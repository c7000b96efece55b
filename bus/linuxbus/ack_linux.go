// https://github.com/picomemcard/firmware
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package linuxbus

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ackLine drives the ACK line through the Linux GPIO character device
// uAPI directly (golang.org/x/sys/unix ioctls) instead of through a
// sysfs value file: a direct ioctl on an already-open line fd avoids
// the open/write/close round trip sysfs needs for every pulse, which
// matters here because the ACK pulse has to land inside a ~15µs
// window.
type ackLine struct {
	fd int
}

const (
	gpioV2LineFlagOutput     uint64 = 1 << 3
	gpioV2LineFlagActiveHigh uint64 = 0
	gpioMaxNameSize                 = 32
)

type gpioV2LineValues struct {
	bits uint64
	mask uint64
}

type gpioV2LineConfig struct {
	flags    uint64
	numAttrs uint32
	padding  [5]uint32
	// attrs omitted: zero attributes requested, flags above apply to
	// every requested offset.
	attrs [10]struct {
		attr struct {
			id      uint32
			padding uint32
			value   uint64
		}
		mask uint64
	}
}

type gpioV2LineRequest struct {
	offsets         [64]uint32
	consumer        [gpioMaxNameSize]byte
	config          gpioV2LineConfig
	numLines        uint32
	eventBufferSize uint32
	padding         [5]uint32
	fd              int32
}

// ioctl numbers from <linux/gpio.h>: GPIO_GET_LINE_IOCTL and
// GPIO_V2_LINE_SET_VALUES_IOCTL.
const (
	iocGetLine  = 0xc250b407
	iocSetValue = 0xc010b40f
)

// openACKLine resolves a periph pin name of the form "GPIOn" into a
// (chip, offset) pair and requests it as an output line.
func openACKLine(name string) (*ackLine, error) {
	offset, err := gpioOffset(name)
	if err != nil {
		return nil, err
	}

	chipFd, err := unix.Open("/dev/gpiochip0", unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open gpiochip0: %w", err)
	}
	defer unix.Close(chipFd)

	var req gpioV2LineRequest
	req.offsets[0] = offset
	req.numLines = 1
	copy(req.consumer[:], "picomemcard-ack")
	req.config.flags = gpioV2LineFlagOutput | gpioV2LineFlagActiveHigh

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(chipFd), uintptr(iocGetLine), uintptr(unsafe.Pointer(&req))); errno != 0 {
		return nil, fmt.Errorf("GPIO_GET_LINE_IOCTL: %w", errno)
	}

	return &ackLine{fd: int(req.fd)}, nil
}

// gpioOffset extracts the numeric offset from a "GPIOn" style pin
// name; board-specific pin naming beyond that convention is out of
// scope for this development backend.
func gpioOffset(name string) (uint32, error) {
	n := strings.TrimPrefix(strings.ToUpper(name), "GPIO")
	v, err := strconv.Atoi(n)
	if err != nil {
		return 0, fmt.Errorf("linuxbus: cannot parse pin name %q: %w", name, err)
	}
	return uint32(v), nil
}

// pulse drives the ACK line low for roughly 2µs then releases it,
// matching the open-drain pulse a real card produces.
func (a *ackLine) pulse() {
	low := gpioV2LineValues{bits: 0, mask: 1}
	unix.Syscall(unix.SYS_IOCTL, uintptr(a.fd), uintptr(iocSetValue), uintptr(unsafe.Pointer(&low)))

	time.Sleep(2 * time.Microsecond)

	high := gpioV2LineValues{bits: 1, mask: 1}
	unix.Syscall(unix.SYS_IOCTL, uintptr(a.fd), uintptr(iocSetValue), uintptr(unsafe.Pointer(&high)))
}

func (a *ackLine) Close() error {
	if a == nil || a.fd == 0 {
		return nil
	}
	return os.NewFile(uintptr(a.fd), "ack").Close()
}
