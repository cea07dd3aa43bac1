package main

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/versecatch/internal/app"
	"github.com/MrWong99/versecatch/internal/config"
	"github.com/MrWong99/versecatch/pkg/provider/detect"
	"github.com/MrWong99/versecatch/pkg/provider/detect/mock"
	"github.com/MrWong99/versecatch/pkg/provider/detect/remote"
)

// registerBuiltinDetectors wires the detector factories that ship with
// VerseCatch into reg.
func registerBuiltinDetectors(reg *config.Registry) {
	reg.RegisterDetector("remote", func(entry config.DetectorEntry) (detect.Provider, error) {
		var opts []remote.Option
		if entry.APIKey != "" {
			opts = append(opts, remote.WithAPIKey(entry.APIKey))
		}
		return remote.New(entry.BaseURL, opts...)
	})

	// mock never matches; useful for load tests of the stream path.
	reg.RegisterDetector("mock", func(config.DetectorEntry) (detect.Provider, error) {
		return &mock.Provider{}, nil
	})

	for _, name := range reg.DetectorNames() {
		slog.Debug("registered detector", "name", name)
	}
}

// buildProviders instantiates the primary detector and every fallback named
// in cfg.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	p, err := reg.CreateDetector(cfg.Detector.DetectorEntry)
	if err != nil {
		return nil, err
	}
	ps := &app.Providers{Detector: app.Detector{Name: cfg.Detector.Name, Provider: p}}
	slog.Info("detector created", "name", cfg.Detector.Name, "role", "primary")

	for i, entry := range cfg.Detector.Fallbacks {
		fb, err := reg.CreateDetector(entry)
		if err != nil {
			return nil, fmt.Errorf("fallback %d: %w", i, err)
		}
		ps.Fallbacks = append(ps.Fallbacks, app.Detector{Name: entry.Name, Provider: fb})
		slog.Info("detector created", "name", entry.Name, "role", "fallback")
	}
	return ps, nil
}
