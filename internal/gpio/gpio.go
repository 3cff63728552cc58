package gpio

import (
	"errors"
	"fmt"
	"sync"

	gpiod "github.com/warthog618/go-gpiocdev"

	"github.com/nerrad567/gray-logic-relay/internal/control"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/config"
)

// ErrClosed is returned when writing to a released output.
var ErrClosed = errors.New("gpio: output closed")

// Output is a controllable digital line.
type Output interface {
	control.Pin
	Level() control.Level
	Close() error
}

// Open returns the output described by cfg, driven to initial.
func Open(cfg config.OutputConfig, initial control.Level) (Output, error) {
	switch cfg.Backend {
	case config.OutputBackendMemory:
		return NewMemoryPin(initial), nil
	case config.OutputBackendGPIOCDev:
		return OpenLine(cfg.Chip, cfg.Line, cfg.ActiveLow, cfg.Consumer, initial)
	default:
		return nil, fmt.Errorf("gpio: unknown output backend %q", cfg.Backend)
	}
}

// LinePin drives one line of a GPIO character device.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type LinePin struct {
	mu     sync.Mutex
	chip   *gpiod.Chip
	line   *gpiod.Line
	offset int
	level  control.Level
	closed bool
}

// OpenLine requests offset on chip as an output at initial.
//
// Parameters:
//   - chipName: Chip device name, e.g. "gpiochip0"
//   - offset: Line offset on the chip
//   - activeLow: Invert the physical level
//   - consumer: Label shown by gpioinfo
//   - initial: Level written when the line is requested
func OpenLine(chipName string, offset int, activeLow bool, consumer string, initial control.Level) (*LinePin, error) {
	chip, err := gpiod.NewChip(chipName, gpiod.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("opening gpio chip %s: %w", chipName, err)
	}

	opts := []gpiod.LineReqOption{gpiod.AsOutput(levelValue(initial))}
	if activeLow {
		opts = append(opts, gpiod.AsActiveLow)
	}

	line, err := chip.RequestLine(offset, opts...)
	if err != nil {
		chip.Close() //nolint:errcheck // already returning the request error
		return nil, fmt.Errorf("requesting gpio line %d on %s: %w", offset, chipName, err)
	}

	return &LinePin{
		chip:   chip,
		line:   line,
		offset: offset,
		level:  initial,
	}, nil
}

// Set drives the line to level.
func (p *LinePin) Set(level control.Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if err := p.line.SetValue(levelValue(level)); err != nil {
		return fmt.Errorf("setting gpio line %d: %w", p.offset, err)
	}
	p.level = level
	return nil
}

// Level returns the last level written.
func (p *LinePin) Level() control.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// Close releases the line and the chip.
func (p *LinePin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return errors.Join(p.line.Close(), p.chip.Close())
}

func levelValue(level control.Level) int {
	if level == control.High {
		return 1
	}
	return 0
}

// MemoryPin keeps the level in memory. Used for development hosts
// without GPIO and in tests.
type MemoryPin struct {
	mu     sync.Mutex
	level  control.Level
	writes int
	closed bool
}

// NewMemoryPin creates a MemoryPin at initial.
func NewMemoryPin(initial control.Level) *MemoryPin {
	return &MemoryPin{level: initial}
}

// Set records level.
func (p *MemoryPin) Set(level control.Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	p.level = level
	p.writes++
	return nil
}

// Level returns the current level.
func (p *MemoryPin) Level() control.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// Writes returns how many times Set succeeded.
func (p *MemoryPin) Writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

// Close marks the pin released.
func (p *MemoryPin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
