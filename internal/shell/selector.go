package shell

import (
	"context"
	"sync"

	"github.com/danmuck/devexec/internal/device"
)

// Facts are the device facts protocol selection may consult. Implementations
// issue each query at most once.
type Facts interface {
	Features() (device.FeatureSet, error)
	APILevel() (int, error)
}

type deviceFacts struct {
	features func() (device.FeatureSet, error)
	apiLevel func() (int, error)
}

// newDeviceFacts binds lazy, memoized queries to ctx for one execution.
func newDeviceFacts(ctx context.Context, dev Device, serial string) *deviceFacts {
	return &deviceFacts{
		features: sync.OnceValues(func() (device.FeatureSet, error) {
			return dev.Features(ctx, serial)
		}),
		apiLevel: sync.OnceValues(func() (int, error) {
			return dev.APILevel(ctx, serial)
		}),
	}
}

func (f *deviceFacts) Features() (device.FeatureSet, error) { return f.features() }
func (f *deviceFacts) APILevel() (int, error)               { return f.apiLevel() }

// Select picks the protocol for cfg. Facts are only queried by the branches
// that need them, in priority order.
func Select(ctx context.Context, cfg Config, facts Facts) (Protocol, error) {
	if err := ctx.Err(); err != nil {
		return 0, context.Cause(ctx)
	}
	if cfg.Protocols.Multiplexed {
		features, err := facts.Features()
		if err != nil {
			return 0, err
		}
		if features.Has(device.FeatureShellV2) {
			return Multiplexed, nil
		}
	}
	if cfg.Protocols.RawWithExit {
		level, err := facts.APILevel()
		if err != nil {
			return 0, err
		}
		if level >= MinRawWithExitAPILevel {
			return RawWithExit, nil
		}
	}
	if cfg.Protocols.RawMerged {
		return RawMerged, nil
	}
	return 0, ErrNoCompatibleProtocol
}

// shouldStripCRLF reports whether output of p needs CRLF rewriting. The API
// level is only queried for RawMerged with stripping enabled.
func shouldStripCRLF(cfg Config, p Protocol, facts Facts) (bool, error) {
	if p != RawMerged || !cfg.StripCRLF {
		return false, nil
	}
	level, err := facts.APILevel()
	if err != nil {
		return false, err
	}
	return level <= MaxCRLFAPILevel, nil
}
