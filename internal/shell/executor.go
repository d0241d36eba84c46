package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"
	"time"

	"github.com/danmuck/devexec/internal/device"
	"github.com/danmuck/devexec/internal/observability"
	"github.com/danmuck/devexec/internal/protocol/frame"
	"github.com/danmuck/devexec/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Device is the host-side collaborator an Executor runs commands through.
// *device.Client implements it.
type Device interface {
	Features(ctx context.Context, serial string) (device.FeatureSet, error)
	APILevel(ctx context.Context, serial string) (int, error)
	Open(ctx context.Context, serial, service string) (*transport.Channel, error)
	TrackExitStatus(command, token string) string
	ExitStatus(ctx context.Context, serial, token string) (int, error)
}

var _ Device = (*device.Client)(nil)

// errConsumerStopped is the cancellation cause when a consumer stops early.
var errConsumerStopped = errors.New("shell: consumer stopped")

// Executor runs commands on devices. It is safe for concurrent use; each
// execution owns its own channel.
type Executor struct {
	dev    Device
	limits frame.Limits
}

func NewExecutor(dev Device) *Executor {
	return &Executor{dev: dev, limits: frame.DefaultLimits()}
}

// WithFrameLimits returns a copy of x that enforces limits on multiplexed frames.
func (x *Executor) WithFrameLimits(limits frame.Limits) *Executor {
	return &Executor{dev: x.dev, limits: limits}
}

// execution is the state of one running command.
type execution struct {
	id       string
	serial   string
	protocol Protocol
	start    time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc
	ch     *transport.Channel
	src    eventSource

	closeOnce sync.Once
}

// start selects a protocol, opens the channel and launches stdin forwarding.
// The overall deadline also bounds these setup steps.
func (x *Executor) start(ctx context.Context, serial string, cfg Config) (*execution, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	run := &execution{id: uuid.NewString(), serial: serial, start: time.Now()}
	run.ctx, run.cancel = context.WithCancelCause(ctx)

	setup := run.ctx
	var deadline time.Time
	if cfg.Timeout > 0 {
		deadline = run.start.Add(cfg.Timeout)
		var cancel context.CancelFunc
		setup, cancel = context.WithDeadlineCause(run.ctx, deadline, &TimeoutError{Kind: TimeoutOverall, After: cfg.Timeout})
		defer cancel()
	}

	if err := x.open(setup, run, cfg, deadline); err != nil {
		run.cancel(err)
		err = setupErr(err, deadline, cfg.Timeout)
		run.finish(err)
		return nil, err
	}
	log.Debug().Str("exec", run.id).Str("serial", serial).Str("protocol", run.protocol.String()).
		Msg("shell.Executor started")
	return run, nil
}

func (x *Executor) open(ctx context.Context, run *execution, cfg Config, deadline time.Time) error {
	facts := newDeviceFacts(ctx, x.dev, run.serial)
	p, err := Select(ctx, cfg, facts)
	if err != nil {
		return err
	}
	run.protocol = p
	strip, err := shouldStripCRLF(cfg, p, facts)
	if err != nil {
		return err
	}

	command := cfg.WireCommand(p)
	var token string
	if p == RawWithExit {
		token = uuid.NewString()
		command = x.dev.TrackExitStatus(command, token)
	}
	ch, err := x.dev.Open(ctx, run.serial, p.service(command))
	if err != nil {
		return err
	}
	run.ch = ch

	w := wire{ch: ch, deadline: deadline}
	var (
		framer eventSource
		pump   stdinPump
	)
	switch p {
	case Multiplexed:
		framer = newMultiplexedFramer(w, cfg.BufferSize, x.limits)
		pump = multiplexedStdin(ch, cfg.Stdin, cfg.BufferSize, x.limits)
	case RawWithExit:
		framer = newRawExitFramer(w, cfg.BufferSize, func(ctx context.Context) (int, error) {
			return x.dev.ExitStatus(ctx, run.serial, token)
		})
		pump = rawStdin(ch, cfg.Stdin, cfg.BufferSize, cfg.ShutdownOutput)
	default:
		framer = newRawMergedFramer(w, cfg.BufferSize, strip)
		if cfg.Stdin != nil {
			pump = rawStdin(ch, cfg.Stdin, cfg.BufferSize, false)
		}
	}
	run.src = newMonitor(framer, cfg.Timeout, cfg.IdleTimeout, run.start)

	if pump != nil {
		go func() {
			if err := pump(run.ctx); err != nil {
				log.Debug().Str("exec", run.id).Err(err).Msg("shell.Executor stdin forwarding stopped")
			}
		}()
	}
	return nil
}

// setupErr reports channel-operation timeouts at or past the overall
// deadline as overall timeouts.
func setupErr(err error, deadline time.Time, overall time.Duration) error {
	var te *TimeoutError
	if errors.As(err, &te) || !errors.Is(err, transport.ErrTimeout) {
		return err
	}
	if !deadline.IsZero() && !time.Now().Before(deadline) {
		return &TimeoutError{Kind: TimeoutOverall, After: overall, Err: err}
	}
	return &TimeoutError{Kind: TimeoutChannelOperation, Err: err}
}

// drive pulls events until the end of the stream and feeds col.
func drive[T any](run *execution, col Collector[T], emit func(T) error) (err error) {
	defer func() {
		if err != nil {
			abort(col)
		}
	}()
	if err := col.Start(emit); err != nil {
		return err
	}
	exitCode := NoExitCode
	for {
		ev, nerr := run.src.Next(run.ctx)
		if errors.Is(nerr, io.EOF) {
			break
		}
		if nerr != nil {
			return nerr
		}
		if ev.Kind == EventExit {
			exitCode = ev.ExitCode
			continue
		}
		observability.RecordBytes(ev.Kind.String(), len(ev.Data))
		if err := col.Collect(ev, emit); err != nil {
			return err
		}
	}
	return col.End(exitCode, emit)
}

// close cancels stdin forwarding and closes the channel, once.
func (run *execution) close(err error) {
	run.closeOnce.Do(func() {
		cause := err
		if cause == nil {
			cause = context.Canceled
		}
		run.cancel(cause)
		if run.ch != nil {
			_ = run.ch.Close()
		}
		run.finish(err)
	})
}

func (run *execution) finish(err error) {
	outcome := "ok"
	var te *TimeoutError
	switch {
	case err == nil:
	case errors.Is(err, errConsumerStopped):
		outcome = "stopped"
	case errors.As(err, &te):
		outcome = "timeout"
		observability.RecordTimeout(te.Kind.String())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = "cancelled"
	default:
		outcome = "error"
	}
	var protocol string
	if run.protocol != 0 {
		protocol = run.protocol.String()
	}
	elapsed := time.Since(run.start)
	observability.RecordExecution(protocol, outcome, elapsed)
	log.Debug().Str("exec", run.id).Str("serial", run.serial).Str("protocol", protocol).
		Str("outcome", outcome).Dur("elapsed", elapsed).Err(err).Msg("shell.Executor finished")
}

// Stream runs cfg on serial and yields the units col emits, lazily. Nothing
// happens until the sequence is ranged over. Breaking out of the loop closes
// the channel; a failure is yielded once, last, after the channel is closed.
func Stream[T any](ctx context.Context, x *Executor, serial string, cfg Config, col Collector[T]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		run, err := x.start(ctx, serial, cfg)
		if err != nil {
			yield(zero, err)
			return
		}
		consumerStopped := false
		// Covers a consumer that panics inside the loop body.
		defer run.close(errConsumerStopped)

		err = drive(run, col, func(v T) error {
			if consumerStopped || !yield(v, nil) {
				consumerStopped = true
				return errConsumerStopped
			}
			return nil
		})
		if consumerStopped {
			run.close(errConsumerStopped)
			return
		}
		run.close(err)
		if err != nil {
			yield(zero, err)
		}
	}
}

// Single runs cfg with a single-output collector and returns its one unit.
// The caller owns the unit and closes it if it implements io.Closer.
func Single[T any](ctx context.Context, x *Executor, serial string, cfg Config, col Collector[T]) (T, error) {
	var zero T
	if col.Kind() != SingleOutput {
		return zero, fmt.Errorf("%w: got %s", ErrCollectorKindMismatch, col.Kind())
	}
	var (
		out T
		n   int
	)
	for v, err := range Stream(ctx, x, serial, cfg, col) {
		if err != nil {
			if n > 0 {
				_ = release(out)
			}
			return zero, err
		}
		n++
		if n > 1 {
			_ = release(out)
			_ = release(v)
			return zero, fmt.Errorf("%w: got more than one", ErrCollectorContract)
		}
		out = v
	}
	if n == 0 {
		return zero, fmt.Errorf("%w: got none", ErrCollectorContract)
	}
	return out, nil
}

// UseSingle runs cfg, passes the single unit to fn and releases the unit
// exactly once afterwards, even when fn fails or panics.
func UseSingle[T any](ctx context.Context, x *Executor, serial string, cfg Config, col Collector[T], fn func(T) error) (err error) {
	v, err := Single(ctx, x, serial, cfg, col)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := release(v); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(v)
}
