// Package printer drives an ESC/POS style thermal receipt printer over any
// io.ReadWriter, such as a serial device.
package printer

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

const (
	esc = 0x1b
	dle = 0x10
	eot = 0x04

	// The default time to wait for a real-time status response.
	DefaultStatusTimeout = 100 * time.Millisecond
	// The default line spacing, in dots.
	DefaultLineSpacing = 30
	// The status byte that reports paper sensor state.
	PaperSensorStatus = 4
	// Set in the paper sensor status when paper is out.
	paperOutMask = 0x40
)

// Mode flags for SetMode; combine with bitwise or.
type Mode byte

const (
	FontLarge Mode = 0x00
	FontSmall Mode = 0x01
	BoldOff   Mode = 0x00
	BoldOn    Mode = 0x08
	Height1x  Mode = 0x00
	Height2x  Mode = 0x10
	Width1x   Mode = 0x00
	Width2x   Mode = 0x20
	UnderOff  Mode = 0x00
	UnderOn   Mode = 0x80
)

// The printer did not answer a status request within the timeout.
var ErrNoResponse = errors.New("no status response from printer")

// Ports that support read deadlines, e.g. *os.File and net.Conn.
type deadlineReader interface {
	SetReadDeadline(t time.Time) error
}

// Printer sends commands and text to a receipt printer.
type Printer struct {
	port          io.ReadWriter
	logger        logr.Logger
	statusTimeout time.Duration
	// Bytes read from a port without deadlines by a single reader goroutine.
	responses  chan byte
	readerOnce sync.Once
	// The time taken by the last status response.
	ResponseTime time.Duration
}

// Defines the function signature for Printer options.
type Option func(*Printer)

// Use the supplied logger.
func WithLogger(logger logr.Logger) Option {
	return func(p *Printer) {
		p.logger = logger
	}
}

// Set how long to wait for a real-time status response.
func WithStatusTimeout(timeout time.Duration) Option {
	return func(p *Printer) {
		if timeout > 0 {
			p.statusTimeout = timeout
		}
	}
}

// Create a new Printer that communicates through port.
func New(port io.ReadWriter, options ...Option) *Printer {
	printer := &Printer{
		port:          port,
		logger:        logr.Discard(),
		statusTimeout: DefaultStatusTimeout,
	}
	for _, option := range options {
		option(printer)
	}
	return printer
}

func (p *Printer) write(cmd ...byte) error {
	if _, err := p.port.Write(cmd); err != nil {
		return fmt.Errorf("failed to write command %x: %w", cmd, err)
	}
	return nil
}

// Reset the printer to its power-on state.
func (p *Printer) Reset() error {
	return p.write(esc, '@')
}

// Rotate printed characters by 90 degrees.
func (p *Printer) Rotate(rotate bool) error {
	var n byte
	if rotate {
		n = 1
	}
	return p.write(esc, 'V', n)
}

// Set the print mode.
func (p *Printer) SetMode(mode Mode) error {
	return p.write(esc, '!', byte(mode))
}

// Set the line spacing in dots.
func (p *Printer) LineSpace(dots uint8) error {
	return p.write(esc, '3', dots)
}

// Send text to the print buffer.
func (p *Printer) Print(s string) error {
	if _, err := io.WriteString(p.port, s); err != nil {
		return fmt.Errorf("failed to write text: %w", err)
	}
	return nil
}

// Print the buffer and advance the paper by dots; the paper always advances
// by at least the height of the buffered line.
func (p *Printer) Feed(dots uint8) error {
	return p.write(esc, 'J', dots)
}

// Set the heating dots, heating time and heating interval.
func (p *Printer) Heat(dots, heatTime, interval uint8) error {
	return p.write(esc, '7', dots, heatTime, interval)
}

// Status requests one of the real-time transmission status bytes.
func (p *Printer) Status(which uint8) (byte, error) {
	logger := p.logger.V(1).WithValues("which", which)
	buf := make([]byte, 1)
	deadline, hasDeadline := p.port.(deadlineReader)
	if hasDeadline && deadline.SetReadDeadline(time.Now()) == nil {
		// Discard anything left over from an earlier response.
		for {
			if n, err := p.port.Read(buf); n == 0 || err != nil {
				break
			}
		}
	} else {
		hasDeadline = false
		p.drainResponses()
	}
	if err := p.write(dle, eot, which); err != nil {
		return 0, err
	}
	start := time.Now()
	var b byte
	var err error
	if hasDeadline {
		b, err = p.readWithDeadline(deadline, buf)
	} else {
		b, err = p.readWithTimer()
	}
	p.ResponseTime = time.Since(start)
	logger.Info("Status response", "status", b, "err", err, "responseTime", p.ResponseTime)
	return b, err
}

func (p *Printer) readWithDeadline(deadline deadlineReader, buf []byte) (byte, error) {
	if err := deadline.SetReadDeadline(time.Now().Add(p.statusTimeout)); err != nil {
		return 0, fmt.Errorf("failed to set read deadline: %w", err)
	}
	defer func() {
		_ = deadline.SetReadDeadline(time.Time{})
	}()
	n, err := p.port.Read(buf)
	if n == 1 {
		return buf[0], nil
	}
	return 0, fmt.Errorf("%w after %s: %v", ErrNoResponse, p.statusTimeout, err) //nolint:errorlint // the read error is informational
}

// Starts the goroutine that owns all reads from a port without deadlines. It
// exits, closing responses, when the port returns an error.
func (p *Printer) startReader() {
	p.readerOnce.Do(func() {
		p.responses = make(chan byte, 16)
		go func() {
			defer close(p.responses)
			buf := make([]byte, 1)
			for {
				n, err := p.port.Read(buf)
				if n == 1 {
					p.responses <- buf[0]
				}
				if err != nil {
					p.logger.V(2).Info("Printer reader exiting", "err", err)
					return
				}
			}
		}()
	})
}

// Discards any bytes that arrived after an earlier status request timed out.
func (p *Printer) drainResponses() {
	if p.responses == nil {
		return
	}
	for {
		select {
		case _, ok := <-p.responses:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (p *Printer) readWithTimer() (byte, error) {
	p.startReader()
	timer := time.NewTimer(p.statusTimeout)
	defer timer.Stop()
	select {
	case b, ok := <-p.responses:
		if !ok {
			return 0, ErrNoResponse
		}
		return b, nil
	case <-timer.C:
		return 0, fmt.Errorf("%w after %s", ErrNoResponse, p.statusTimeout)
	}
}

// Paper returns true if the paper sensor reports paper present.
func (p *Printer) Paper() (bool, error) {
	status, err := p.Status(PaperSensorStatus)
	if err != nil {
		return false, err
	}
	return status&paperOutMask == 0, nil
}

// Begin resets the printer and applies the default line spacing.
func (p *Printer) Begin() error {
	if err := p.Reset(); err != nil {
		return err
	}
	return p.LineSpace(DefaultLineSpacing)
}

// PrintDigits prints a receipt for the digits of pi found at the 1-based
// position, followed by a blank feed.
func (p *Printer) PrintDigits(position uint64, digits string) error {
	if err := p.SetMode(FontSmall); err != nil {
		return err
	}
	if err := p.Print(fmt.Sprintf("pi @ %d\n", position)); err != nil {
		return err
	}
	if err := p.SetMode(FontLarge | BoldOn | Height2x); err != nil {
		return err
	}
	if err := p.Print(digits + "\n"); err != nil {
		return err
	}
	if err := p.SetMode(FontLarge); err != nil {
		return err
	}
	return p.Feed(3 * DefaultLineSpacing)
}
