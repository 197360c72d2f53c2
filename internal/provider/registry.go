package provider

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/Chapsvision-dev/db-backup-uploader/internal/config"
)

// Factory creates a provider instance from the run configuration.
type Factory func(cfg config.Config, logger zerolog.Logger) (Provider, error)

var registry = map[string]Factory{}

// Register binds a provider name to its factory.
func Register(name string, f Factory) {
	registry[name] = f
}

// New returns a provider instance by name.
func New(name string, cfg config.Config, logger zerolog.Logger) (Provider, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("provider not found: %s (known: %v)", name, Names())
	}
	return f(cfg, logger.With().Str("provider", name).Logger())
}

// Names lists registered providers.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
