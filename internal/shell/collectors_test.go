package shell

import (
	"testing"

	"github.com/danmuck/devexec/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func runCollector[T any](t *testing.T, col Collector[T], exitCode int, events ...Event) []T {
	t.Helper()
	var out []T
	emit := func(v T) error {
		out = append(out, v)
		return nil
	}
	require.NoError(t, col.Start(emit))
	for _, ev := range events {
		require.NoError(t, col.Collect(ev, emit))
	}
	require.NoError(t, col.End(exitCode, emit))
	return out
}

func stdout(s string) Event { return Event{Kind: EventStdout, Data: []byte(s)} }
func stderr(s string) Event { return Event{Kind: EventStderr, Data: []byte(s)} }

func TestTextCollector(t *testing.T) {
	testlog.Start(t)
	col := NewTextCollector()
	out := runCollector[TextResult](t, col, 2, stdout("a"), stderr("oops"), stdout("b"))
	require.Equal(t, []TextResult{{Stdout: "ab", Stderr: "oops", ExitCode: 2}}, out)

	out = runCollector[TextResult](t, col, NoExitCode, stdout("again"))
	require.Equal(t, []TextResult{{Stdout: "again", ExitCode: NoExitCode}}, out)
}

func TestBufferCollectorReleasesOnce(t *testing.T) {
	testlog.Start(t)
	out := runCollector[*BufferedOutput](t, NewBufferCollector(), 0, stdout("data"), stderr("err"))
	require.Len(t, out, 1)
	require.Equal(t, "data", out[0].Stdout.String())
	require.Equal(t, "err", out[0].Stderr.String())
	require.NoError(t, out[0].Close())
	require.NoError(t, out[0].Close())
	require.Nil(t, out[0].Stdout)
}

func TestLineCollectorSplitsAcrossEvents(t *testing.T) {
	testlog.Start(t)
	out := runCollector[Line](t, NewLineCollector(), 1,
		stdout("one\ntw"), stderr("warn"), stdout("o\nthree"), stderr("ing\n"))
	require.Equal(t, []Line{
		{Stream: EventStdout, Text: "one"},
		{Stream: EventStdout, Text: "two"},
		{Stream: EventStderr, Text: "warning"},
		{Stream: EventStdout, Text: "three"},
		{Stream: EventExit, ExitCode: 1},
	}, out)
}

func TestLineCollectorWithoutExitCode(t *testing.T) {
	testlog.Start(t)
	out := runCollector[Line](t, NewLineCollector(), NoExitCode, stdout("a\n\nb\n"))
	require.Equal(t, []Line{
		{Stream: EventStdout, Text: "a"},
		{Stream: EventStdout, Text: ""},
		{Stream: EventStdout, Text: "b"},
	}, out)
}

func TestChunkCollectorCopiesData(t *testing.T) {
	testlog.Start(t)
	buf := []byte("abc")
	col := NewChunkCollector()
	var chunks []*Chunk
	emit := func(c *Chunk) error {
		chunks = append(chunks, c)
		return nil
	}
	require.NoError(t, col.Collect(Event{Kind: EventStdout, Data: buf}, emit))
	copy(buf, "xyz")
	require.NoError(t, col.End(7, emit))

	require.Len(t, chunks, 2)
	require.Equal(t, "abc", string(chunks[0].Bytes()))
	require.Equal(t, EventExit, chunks[1].Stream)
	require.Equal(t, 7, chunks[1].ExitCode)
	for _, c := range chunks {
		require.NoError(t, c.Close())
		require.NoError(t, c.Close())
	}
	require.Nil(t, chunks[0].Bytes())
}

func TestCollectorFuncIsMultiOutput(t *testing.T) {
	testlog.Start(t)
	col := CollectorFunc[int](func(ev Event, emit func(int) error) error {
		return emit(len(ev.Data))
	})
	require.Equal(t, MultiOutput, col.Kind())
	require.Equal(t, []int{3, 1}, runCollector[int](t, col, 0, stdout("abc"), stderr("x")))
}
