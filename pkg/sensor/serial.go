package sensor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/itohio/goenvml/pkg/config"
	"github.com/itohio/goenvml/pkg/logger"
	"github.com/itohio/goenvml/pkg/normalize"
)

const (
	// DefaultBaudRate is the firmware console baud rate.
	DefaultBaudRate = 115200
	// DefaultBufferSize is the default size for the readings channel buffer.
	DefaultBufferSize = 100
)

var (
	// ErrNotData marks console lines that are not readings: boot banners,
	// probability lines and driver messages.
	ErrNotData = errors.New("not a reading")
	// ErrMalformed marks lines that look like readings but do not parse.
	ErrMalformed = errors.New("malformed reading")
)

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
	USB         bool
	VID         string
	PID         string
}

// opener opens a port. Tests replace it.
type opener func(name string, baud int) (io.ReadWriteCloser, error)

func openSerial(name string, baud int) (io.ReadWriteCloser, error) {
	return serial.Open(name, &serial.Mode{BaudRate: baud})
}

// Serial reads firmware CSV readings from a serial port.
type Serial struct {
	port     string
	baudRate int
	log      logger.Logger
	open     opener
	blocking bool // wait for the consumer instead of dropping readings

	conn      io.ReadWriteCloser
	readings  chan Reading
	done      chan struct{}
	mu        sync.RWMutex
	cancel    context.CancelFunc
	connected bool
}

// NewSerial creates a serial source. Zero values in cfg use the defaults.
func NewSerial(cfg config.SerialConfig, log logger.Logger) *Serial {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if log == nil {
		log = logger.Discard()
	}

	return &Serial{
		port:     cfg.Port,
		baudRate: cfg.BaudRate,
		log:      log.With("port", cfg.Port),
		open:     openSerial,
		readings: make(chan Reading, cfg.BufferSize),
		done:     make(chan struct{}),
	}
}

// NewStream creates a source that parses firmware output from r, such as a
// captured console log. Unlike a live port it never drops readings: the
// reader waits for the consumer. The readings channel closes at EOF.
func NewStream(name string, r io.Reader, log logger.Logger) *Serial {
	s := NewSerial(config.SerialConfig{Port: name}, log)
	s.blocking = true
	s.open = func(string, int) (io.ReadWriteCloser, error) {
		return streamPort{r}, nil
	}
	return s
}

// streamPort adapts a reader to the port interface. Writes are discarded.
type streamPort struct {
	io.Reader
}

func (p streamPort) Write(b []byte) (int, error) { return len(b), nil }

func (p streamPort) Close() error {
	if c, ok := p.Reader.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Ports returns the available serial ports, with USB details where the
// platform provides them.
func Ports() ([]Port, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err == nil {
		result := make([]Port, 0, len(details))
		for _, d := range details {
			desc := d.Product
			if desc == "" {
				desc = d.Name
			}
			result = append(result, Port{
				Name:        d.Name,
				Description: desc,
				USB:         d.IsUSB,
				VID:         d.VID,
				PID:         d.PID,
			})
		}
		return result, nil
	}

	names, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	result := make([]Port, 0, len(names))
	for _, name := range names {
		result = append(result, Port{Name: name, Description: name})
	}
	return result, nil
}

// Connect opens the port and starts reading. The readings channel is closed
// when the port reaches EOF or Close is called.
func (s *Serial) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return fmt.Errorf("already connected")
	}
	select {
	case <-s.done:
		return fmt.Errorf("source closed")
	default:
	}

	conn, err := s.open(s.port, s.baudRate)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.port, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.conn = conn
	s.cancel = cancel
	s.connected = true

	go s.read(ctx, conn)

	return nil
}

// Close closes the port and waits for the reader to finish.
func (s *Serial) Close() error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	err := s.conn.Close()
	s.connected = false
	s.mu.Unlock()

	<-s.done
	if err != nil {
		return fmt.Errorf("failed to close serial port: %w", err)
	}
	return nil
}

// Readings returns the channel for reading samples.
func (s *Serial) Readings() <-chan Reading {
	return s.readings
}

// IsConnected returns whether the port is open.
func (s *Serial) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// read parses lines until EOF or cancellation and owns the readings channel.
func (s *Serial) read(ctx context.Context, r io.Reader) {
	defer close(s.done)
	defer close(s.readings)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		reading, err := ParseLine(line)
		if errors.Is(err, ErrNotData) {
			s.log.Debug("console", "line", line)
			continue
		}
		if err != nil {
			s.log.Warn("failed to parse line", "line", line, "error", err)
			continue
		}
		reading.Timestamp = time.Now()

		if s.blocking {
			select {
			case s.readings <- reading:
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case s.readings <- reading:
		case <-ctx.Done():
			return
		default:
			s.log.Warn("readings channel full, dropping reading", "millis", reading.Millis)
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		s.log.Error("error reading from serial port", "error", err)
	}
}

// ParseLine parses one firmware CSV line.
// Format: millis,ldr,temp,hum,tvoc,eco2[,scenario]
// Example: 123456,1.20,25.10,45.00,-1.00,-1.00,normal
func ParseLine(line string) (Reading, error) {
	if line == "" || line[0] < '0' || line[0] > '9' {
		return Reading{}, ErrNotData
	}

	parts := strings.Split(line, ",")
	if len(parts) != 6 && len(parts) != 7 {
		return Reading{}, fmt.Errorf("%w: expected 6 or 7 comma-separated values, got %d", ErrMalformed, len(parts))
	}

	millis, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return Reading{}, fmt.Errorf("%w: invalid millis: %v", ErrMalformed, err)
	}

	r := Reading{Millis: millis}
	for ch := 0; ch < normalize.Channels; ch++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[ch+1]), 32)
		if err != nil {
			return Reading{}, fmt.Errorf("%w: invalid %s: %v", ErrMalformed, normalize.Names[ch], err)
		}
		r.Values[ch] = float32(v)
	}
	if len(parts) == 7 {
		r.Scenario = strings.TrimSpace(parts[6])
	}

	return r, nil
}
