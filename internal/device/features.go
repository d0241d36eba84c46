package device

import (
	"sort"
	"strings"
)

// FeatureShellV2 advertises support for the multiplexed shell protocol.
const FeatureShellV2 = "shell_v2"

// FeatureSet is the set of feature flags a device advertises.
type FeatureSet map[string]struct{}

// ParseFeatures splits the host's comma separated feature list.
func ParseFeatures(raw string) FeatureSet {
	out := FeatureSet{}
	for _, f := range strings.Split(raw, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		out[f] = struct{}{}
	}
	return out
}

func NewFeatureSet(names ...string) FeatureSet {
	out := make(FeatureSet, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}

func (f FeatureSet) Has(name string) bool {
	_, ok := f[name]
	return ok
}

// List returns the features in sorted order.
func (f FeatureSet) List() []string {
	out := make([]string, 0, len(f))
	for name := range f {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (f FeatureSet) String() string {
	return strings.Join(f.List(), ",")
}
