package ioline

import (
	"fmt"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"
)

// GPIO drives one numbered digital output pin via periph.io's host driver
// registry. It is the production Line used by cmd/scheduler for the
// heartbeat and "data ready" pins read from the configuration file.
type GPIO struct {
	pin gpio.PinIO
}

var hostInitOnce = struct {
	done bool
	err  error
}{}

// NewGPIO initialises the host drivers (once per process) and binds to the
// numbered GPIO pin.
func NewGPIO(number int) (*GPIO, error) {
	if !hostInitOnce.done {
		_, hostInitOnce.err = host.Init()
		hostInitOnce.done = true
	}
	if hostInitOnce.err != nil {
		return nil, fmt.Errorf("ioline: host init: %w", hostInitOnce.err)
	}

	p := gpioreg.ByName(fmt.Sprintf("GPIO%d", number))
	if p == nil {
		return nil, fmt.Errorf("ioline: no such GPIO pin %d", number)
	}
	return &GPIO{pin: p}, nil
}

// Set implements Line.
func (g *GPIO) Set(high bool) error {
	level := gpio.Low
	if high {
		level = gpio.High
	}
	return g.pin.Out(level)
}
