package provider

import (
	"fmt"

	"modelmux/internal/config"
	coreprovider "modelmux/internal/provider"
)

// BuildRegistry constructs the closed set of providers declared in the
// configuration and registers each under its configured id. Unknown types
// are rejected by config validation before this runs, so hitting one here is
// a programmer error.
func BuildRegistry(cfg *config.Config) (*coreprovider.Registry, error) {
	registry := coreprovider.NewRegistry()

	for _, pc := range cfg.Providers {
		var (
			p   coreprovider.Provider
			err error
		)
		switch pc.Type {
		case "claude":
			p, err = NewClaude(pc.ID, pc.Model)
		case "openai":
			p, err = NewOpenAI(pc.ID, pc.Model)
		case "static":
			p = NewStatic(pc.ID, pc.Model)
		default:
			err = fmt.Errorf("unknown provider type %q", pc.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("build provider %q: %w", pc.ID, err)
		}
		if err := registry.Register(p); err != nil {
			return nil, err
		}
	}

	return registry, nil
}
