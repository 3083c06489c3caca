package bundle

import (
	"context"
	"strings"

	bv "github.com/gofhir/bundlevalidator"
	"github.com/gofhir/bundlevalidator/engine"
)

// StrategyKind distinguishes the two ways an entry can be validated.
type StrategyKind int

const (
	// StrategyDefault validates against the base definition of the resource type.
	StrategyDefault StrategyKind = iota

	// StrategyProfileDirected validates against the declared profiles.
	StrategyProfileDirected
)

// String returns the kind name used in logs and spans.
func (k StrategyKind) String() string {
	if k == StrategyProfileDirected {
		return "profile"
	}
	return "default"
}

// Strategy is either ProfileDirected(profiles) or Default.
type Strategy struct {
	kind     StrategyKind
	profiles []string
}

// ProfileDirected returns a strategy validating against profiles.
// An empty list yields the Default strategy.
func ProfileDirected(profiles []string) Strategy {
	if len(profiles) == 0 {
		return Default()
	}
	return Strategy{kind: StrategyProfileDirected, profiles: append([]string(nil), profiles...)}
}

// Default returns the base validation strategy.
func Default() Strategy {
	return Strategy{kind: StrategyDefault}
}

// SelectStrategy inspects the profiles declared by entry.
func SelectStrategy(entry bv.Entry) Strategy {
	return ProfileDirected(entry.Profiles)
}

// Kind returns the strategy kind.
func (s Strategy) Kind() StrategyKind { return s.kind }

// Profiles returns a copy of the profile set; nil for Default.
func (s Strategy) Profiles() []string {
	if s.kind != StrategyProfileDirected {
		return nil
	}
	return append([]string(nil), s.profiles...)
}

// FirstOnly narrows a profile-directed strategy to its first profile.
func (s Strategy) FirstOnly() Strategy {
	if s.kind != StrategyProfileDirected || len(s.profiles) <= 1 {
		return s
	}
	return Strategy{kind: StrategyProfileDirected, profiles: s.profiles[:1:1]}
}

// String returns "default" or "profile[url, ...]".
func (s Strategy) String() string {
	if s.kind != StrategyProfileDirected {
		return s.kind.String()
	}
	return s.kind.String() + "[" + strings.Join(s.profiles, ", ") + "]"
}

// run invokes the engine operation matching the strategy.
func (s Strategy) run(ctx context.Context, eng engine.Engine, data []byte) ([]engine.Message, error) {
	if s.kind == StrategyProfileDirected {
		return eng.ValidateWithProfiles(ctx, data, s.profiles)
	}
	res, err := eng.Validate(ctx, data)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	return res.Messages, nil
}
