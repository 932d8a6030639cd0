// Package subscribers provides a name -> factory registry of
// coordinator.FeedbackSubscriber builders, the same registration pattern
// the transform registry used for ETL stages, repurposed here to let a
// demo harness wire feedback handlers by config-supplied name instead of
// importing every handler directly.
package subscribers

import (
	"fmt"
	"strings"

	"market-data-coordinator/internal/coordinator"
)

// Builder constructs a named FeedbackSubscriber, optionally parameterized
// by opts (e.g. a rolling window size passed as a string).
type Builder func(opts string) coordinator.FeedbackSubscriber

var registry = map[string]Builder{}

// Register adds a subscriber factory under name. Re-registering a name
// overwrites the previous factory, matching init()-time registration order
// determining the effective builder.
func Register(name string, builder Builder) {
	registry[strings.ToLower(name)] = builder
}

// Build looks up the factory registered under name and invokes it with
// opts. name is matched case-insensitively.
func Build(name, opts string) (coordinator.FeedbackSubscriber, error) {
	builder, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown feedback subscriber %q", name)
	}
	return builder(opts), nil
}

// Names returns the registered subscriber names, for usage/help text.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
