package source

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/itohio/golockin/pkg/pll"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    Batch
		wantErr bool
	}{
		{
			name: "valid line with edge",
			line: "123456;12,-40,7,1024",
			want: Batch{Samples: []int16{12, -40, 7, 1024}, Edge: pll.Edge(123456)},
		},
		{
			name: "valid line without edge",
			line: "-;0,0,-32768,32767",
			want: Batch{Samples: []int16{0, 0, -32768, 32767}},
		},
		{
			name: "edge at counter limit",
			line: "4294967295;1,2,3,4",
			want: Batch{Samples: []int16{1, 2, 3, 4}, Edge: pll.Edge(4294967295)},
		},
		{
			name: "spaces around samples",
			line: "-;1, 2, 3, 4",
			want: Batch{Samples: []int16{1, 2, 3, 4}},
		},
		{
			name:    "invalid - missing separator",
			line:    "1,2,3,4",
			wantErr: true,
		},
		{
			name:    "invalid - too few samples",
			line:    "-;1,2,3",
			wantErr: true,
		},
		{
			name:    "invalid - too many samples",
			line:    "-;1,2,3,4,5",
			wantErr: true,
		},
		{
			name:    "invalid - edge overflow",
			line:    "4294967296;1,2,3,4",
			wantErr: true,
		},
		{
			name:    "invalid - negative edge",
			line:    "-5;1,2,3,4",
			wantErr: true,
		},
		{
			name:    "invalid - sample out of range",
			line:    "-;1,2,3,40000",
			wantErr: true,
		},
		{
			name:    "invalid - non-numeric sample",
			line:    "-;1,2,x,4",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseLine(tt.line, 4)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatLine_RoundTrip(t *testing.T) {
	s, err := NewSynth(testSynthConfig())
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		b := s.Next()
		got, err := parseLine(FormatLine(b), len(b.Samples))
		require.NoError(t, err)
		assert.Equal(t, b, got)
	}
	assert.Equal(t, "-;1,-2", FormatLine(Batch{Samples: []int16{1, -2}}))
}

func TestSerial_Scan(t *testing.T) {
	d := NewSerial("test", 0, 8, 4)

	input := strings.Join([]string{
		"0;1,2,3,4",
		"",
		"garbage",
		"-;5,6,7,8",
		"1000;-1,-2,-3,-4",
		"-;1,2",
		"-;x,2,3,4",
		"-;9,9,9,9",
	}, "\n")

	d.scan(d.ctx, strings.NewReader(input), d.batches)

	require.Len(t, d.batches, 4)
	b := <-d.batches
	assert.Equal(t, pll.Edge(0), b.Edge)
	assert.Equal(t, []int16{1, 2, 3, 4}, b.Samples)
	assert.Zero(t, b.Lost)
	b = <-d.batches
	assert.False(t, b.Edge.Valid)
	assert.Equal(t, uint32(1), b.Lost, "the garbage line stood for one batch")
	b = <-d.batches
	assert.Equal(t, pll.Edge(1000), b.Edge)
	assert.Zero(t, b.Lost)
	b = <-d.batches
	assert.Equal(t, []int16{9, 9, 9, 9}, b.Samples)
	assert.Equal(t, uint32(2), b.Lost)
	assert.Equal(t, uint64(3), d.Lost())
}

func TestSerial_ScanBlocksWhenFull(t *testing.T) {
	d := NewSerial("test", 0, 2, 2)

	var lines []string
	for i := 0; i < 10; i++ {
		lines = append(lines, FormatLine(Batch{Samples: []int16{int16(i), 0}}))
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.scan(d.ctx, strings.NewReader(strings.Join(lines, "\n")), d.batches)
	}()

	for i := 0; i < 10; i++ {
		select {
		case b := <-d.batches:
			assert.Equal(t, int16(i), b.Samples[0], "no batch skipped")
			assert.Zero(t, b.Lost)
		case <-time.After(5 * time.Second):
			t.Fatalf("only received %d batches", i)
		}
	}
	<-done
	assert.Zero(t, d.Lost())
}

func TestSerial_ScanCancelled(t *testing.T) {
	d := NewSerial("test", 0, 1, 2)

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.scan(d.ctx, strings.NewReader("-;1,2\n-;3,4\n-;5,6\n"), d.batches)
	}()

	// Blocked on the second send until the context is cancelled.
	d.cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scan did not return after cancel")
	}
}

func TestSerial_Reconnect(t *testing.T) {
	d := NewSerial("test", 0, 4, 2)

	for round := 0; round < 3; round++ {
		d.mu.Lock()
		d.start(strings.NewReader("-;1,2\n-;3,4\n"))
		d.mu.Unlock()
		require.True(t, d.IsConnected())

		var got []Batch
		for b := range d.Batches() {
			got = append(got, b)
		}
		assert.Len(t, got, 2, "round %d", round)

		require.NoError(t, d.Close())
		assert.False(t, d.IsConnected())
	}
}

func TestSerial_ReconnectWhileReading(t *testing.T) {
	d := NewSerial("test", 0, 1, 2)

	r, w := io.Pipe()
	d.mu.Lock()
	d.start(r)
	d.mu.Unlock()
	first := d.Batches()

	_, err := io.WriteString(w, "-;1,2\n")
	require.NoError(t, err)
	assert.Equal(t, []int16{1, 2}, (<-first).Samples)

	require.NoError(t, d.Close())
	require.NoError(t, w.Close())
	for range first {
	}

	d.mu.Lock()
	d.start(strings.NewReader("-;3,4\n"))
	d.mu.Unlock()
	b, ok := <-d.Batches()
	require.True(t, ok)
	assert.Equal(t, []int16{3, 4}, b.Samples)
}

func TestSerial_NotConnected(t *testing.T) {
	d := NewSerial("/dev/does-not-exist", 0, 0, 4)

	assert.False(t, d.IsConnected())
	assert.NoError(t, d.Close(), "closing an unconnected device is a no-op")
	assert.Error(t, d.Connect())
	assert.False(t, d.IsConnected())
	assert.Equal(t, DefaultBaudRate, d.baudRate)
	assert.Equal(t, DefaultBufferSize, cap(d.batches))
}
