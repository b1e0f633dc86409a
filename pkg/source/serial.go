package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/itohio/golockin/pkg/pll"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// DefaultBaudRate is the baud rate used when none is configured.
const DefaultBaudRate = 921600

// maxLineSize bounds one batch line: 16 bit samples with separators.
const maxLineSize = 1 << 20

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Serial reads batches from a front end streaming text lines of the form
//
//	<edge|->;<s0>,<s1>,...,<sN-1>
//
// where edge is the captured reference timestamp in internal clock ticks,
// "-" marks a batch without an edge, and s are signed 16-bit ADC samples.
type Serial struct {
	port      string
	baudRate  int
	bufSize   int
	batchSize int

	conn      serial.Port
	batches   chan Batch
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool
	lost      uint64
}

// NewSerial creates a serial batch source. batchSize is the number of samples
// expected per line.
func NewSerial(port string, baudRate, bufSize, batchSize int) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if bufSize == 0 {
		bufSize = DefaultBufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Serial{
		port:      port,
		baudRate:  baudRate,
		bufSize:   bufSize,
		batchSize: batchSize,
		batches:   make(chan Batch, bufSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(details))
	for _, d := range details {
		desc := d.Name
		if d.IsUSB {
			desc = fmt.Sprintf("%s (USB %s:%s %s)", d.Name, d.VID, d.PID, d.Product)
		}
		result = append(result, Port{Name: d.Name, Description: desc})
	}

	return result, nil
}

// Connect opens the serial port and starts reading batches.
func (d *Serial) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return fmt.Errorf("already connected")
	}

	port, err := serial.Open(d.port, &serial.Mode{BaudRate: d.baudRate})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.port, err)
	}

	d.conn = port
	d.start(port)

	return nil
}

// start begins reading r. Every connection gets its own context and batches
// channel, the previous ones are closed by now. The caller holds mu.
func (d *Serial) start(r io.Reader) {
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.batches = make(chan Batch, d.bufSize)
	d.connected = true

	go d.readBatches(d.ctx, r, d.batches)
}

// Close closes the port. The reader exits and closes the batches channel.
func (d *Serial) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}

	d.cancel()

	if d.conn != nil {
		if err := d.conn.Close(); err != nil {
			log.Warn("error closing serial port", "port", d.port, "err", err)
		}
		d.conn = nil
	}

	d.connected = false

	return nil
}

// Batches returns the channel of the current connection.
func (d *Serial) Batches() <-chan Batch {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.batches
}

// IsConnected returns whether the device is currently connected.
func (d *Serial) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

// Lost returns the number of unparseable lines. Each one is reported to the
// consumer through Batch.Lost of the next good batch.
func (d *Serial) Lost() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lost
}

func (d *Serial) readBatches(ctx context.Context, r io.Reader, out chan<- Batch) {
	defer close(out)
	d.scan(ctx, r, out)
}

// scan parses lines from r into out until r is exhausted or ctx is done.
// Sends block: the consumer's batch clock relies on every line being
// accounted for.
func (d *Serial) scan(ctx context.Context, r io.Reader, out chan<- Batch) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var lost uint32
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		batch, err := parseLine(line, d.batchSize)
		if err != nil {
			lost++
			d.mu.Lock()
			d.lost++
			total := d.lost
			d.mu.Unlock()
			log.Warn("failed to parse batch", "err", err, "lost", total)
			continue
		}
		batch.Lost, lost = lost, 0

		select {
		case out <- batch:
		case <-ctx.Done():
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		log.Error("error reading from serial port", "port", d.port, "err", err)
	}
}

// parseLine parses one batch line.
// Example: 123456;12,-40,7,1024 or -;12,-40,7,1024
func parseLine(line string, batchSize int) (Batch, error) {
	head, body, ok := strings.Cut(line, ";")
	if !ok {
		return Batch{}, fmt.Errorf("invalid line format: missing ';' separator")
	}

	var edge pll.Timestamp
	if head != "-" {
		ticks, err := strconv.ParseUint(head, 10, 32)
		if err != nil {
			return Batch{}, fmt.Errorf("invalid edge timestamp: %w", err)
		}
		edge = pll.Edge(uint32(ticks))
	}

	fields := strings.Split(body, ",")
	if len(fields) != batchSize {
		return Batch{}, fmt.Errorf("invalid batch: expected %d samples, got %d", batchSize, len(fields))
	}

	samples := make([]int16, batchSize)
	for i, f := range fields {
		v, err := strconv.ParseInt(strings.TrimSpace(f), 10, 16)
		if err != nil {
			return Batch{}, fmt.Errorf("invalid sample %d: %w", i, err)
		}
		samples[i] = int16(v)
	}

	return Batch{Samples: samples, Edge: edge}, nil
}

// FormatLine renders a batch in the line format read by Serial.
func FormatLine(b Batch) string {
	var sb strings.Builder
	if b.Edge.Valid {
		sb.WriteString(strconv.FormatUint(uint64(b.Edge.Ticks), 10))
	} else {
		sb.WriteByte('-')
	}
	sb.WriteByte(';')
	for i, s := range b.Samples {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(int(s)))
	}
	return sb.String()
}
