package shell

import (
	"bytes"
	"strings"
	"sync"
)

// TextResult is the whole output of one execution.
type TextResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// TextCollector accumulates output into a single TextResult.
type TextCollector struct {
	stdout strings.Builder
	stderr strings.Builder
}

func NewTextCollector() *TextCollector {
	return &TextCollector{}
}

func (c *TextCollector) Kind() CollectorKind { return SingleOutput }

func (c *TextCollector) Start(func(TextResult) error) error {
	c.stdout.Reset()
	c.stderr.Reset()
	return nil
}

func (c *TextCollector) Collect(ev Event, _ func(TextResult) error) error {
	if ev.Kind == EventStderr {
		c.stderr.Write(ev.Data)
	} else {
		c.stdout.Write(ev.Data)
	}
	return nil
}

func (c *TextCollector) End(exitCode int, emit func(TextResult) error) error {
	return emit(TextResult{Stdout: c.stdout.String(), Stderr: c.stderr.String(), ExitCode: exitCode})
}

var bufferPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

func getBuffer() *bytes.Buffer {
	b := bufferPool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

// BufferedOutput holds pooled buffers. Close returns them; the output must
// not be used afterwards.
type BufferedOutput struct {
	Stdout   *bytes.Buffer
	Stderr   *bytes.Buffer
	ExitCode int

	once sync.Once
}

func (o *BufferedOutput) Close() error {
	o.once.Do(func() {
		bufferPool.Put(o.Stdout)
		bufferPool.Put(o.Stderr)
		o.Stdout, o.Stderr = nil, nil
	})
	return nil
}

// BufferCollector accumulates output into pooled buffers.
type BufferCollector struct {
	out *BufferedOutput
}

func NewBufferCollector() *BufferCollector {
	return &BufferCollector{}
}

func (c *BufferCollector) Kind() CollectorKind { return SingleOutput }

func (c *BufferCollector) Start(func(*BufferedOutput) error) error {
	c.Abort()
	c.out = &BufferedOutput{Stdout: getBuffer(), Stderr: getBuffer()}
	return nil
}

// Abort returns the buffers of an output that was never handed over.
func (c *BufferCollector) Abort() {
	if c.out != nil {
		_ = c.out.Close()
		c.out = nil
	}
}

func (c *BufferCollector) Collect(ev Event, _ func(*BufferedOutput) error) error {
	if ev.Kind == EventStderr {
		c.out.Stderr.Write(ev.Data)
	} else {
		c.out.Stdout.Write(ev.Data)
	}
	return nil
}

func (c *BufferCollector) End(exitCode int, emit func(*BufferedOutput) error) error {
	out := c.out
	c.out = nil
	out.ExitCode = exitCode
	return emit(out)
}

// Line is one complete output line without its '\n', or the exit marker.
type Line struct {
	Stream   EventKind
	Text     string
	ExitCode int
}

// LineCollector emits one Line per complete line of each stream, flushes a
// partial last line at the end, then an EventExit line when a code is known.
type LineCollector struct {
	partial [2][]byte
}

func NewLineCollector() *LineCollector {
	return &LineCollector{}
}

func (c *LineCollector) Kind() CollectorKind { return MultiOutput }

func (c *LineCollector) Start(func(Line) error) error {
	c.partial[0] = c.partial[0][:0]
	c.partial[1] = c.partial[1][:0]
	return nil
}

func (c *LineCollector) Collect(ev Event, emit func(Line) error) error {
	idx := streamIndex(ev.Kind)
	data := ev.Data
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			c.partial[idx] = append(c.partial[idx], data...)
			return nil
		}
		var text string
		if len(c.partial[idx]) > 0 {
			text = string(append(c.partial[idx], data[:i]...))
			c.partial[idx] = c.partial[idx][:0]
		} else {
			text = string(data[:i])
		}
		if err := emit(Line{Stream: ev.Kind, Text: text}); err != nil {
			return err
		}
		data = data[i+1:]
	}
}

func (c *LineCollector) End(exitCode int, emit func(Line) error) error {
	for idx, kind := range []EventKind{EventStdout, EventStderr} {
		if len(c.partial[idx]) == 0 {
			continue
		}
		text := string(c.partial[idx])
		c.partial[idx] = c.partial[idx][:0]
		if err := emit(Line{Stream: kind, Text: text}); err != nil {
			return err
		}
	}
	if exitCode == NoExitCode {
		return nil
	}
	return emit(Line{Stream: EventExit, ExitCode: exitCode})
}

func streamIndex(k EventKind) int {
	if k == EventStderr {
		return 1
	}
	return 0
}

var chunkPool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, DefaultBufferSize)
		return &b
	},
}

// Chunk is a copy of one output event in a pooled buffer, or the exit marker.
type Chunk struct {
	Stream   EventKind
	ExitCode int

	data *[]byte
	once sync.Once
}

// Bytes is valid until Close.
func (c *Chunk) Bytes() []byte {
	if c.data == nil {
		return nil
	}
	return *c.data
}

func (c *Chunk) Close() error {
	c.once.Do(func() {
		if c.data != nil {
			chunkPool.Put(c.data)
			c.data = nil
		}
	})
	return nil
}

// ChunkCollector emits one Chunk per output event and a final EventExit
// chunk when a code is known. Consumers close every chunk.
type ChunkCollector struct{}

func NewChunkCollector() ChunkCollector {
	return ChunkCollector{}
}

func (ChunkCollector) Kind() CollectorKind            { return MultiOutput }
func (ChunkCollector) Start(func(*Chunk) error) error { return nil }

func (ChunkCollector) Collect(ev Event, emit func(*Chunk) error) error {
	buf := chunkPool.Get().(*[]byte)
	*buf = append((*buf)[:0], ev.Data...)
	return emit(&Chunk{Stream: ev.Kind, data: buf})
}

func (ChunkCollector) End(exitCode int, emit func(*Chunk) error) error {
	if exitCode == NoExitCode {
		return nil
	}
	return emit(&Chunk{Stream: EventExit, ExitCode: exitCode})
}
