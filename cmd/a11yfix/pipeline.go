package main

import (
	"log/slog"
	"net/url"

	"github.com/hazyhaar/a11yfix/caption"
	"github.com/hazyhaar/a11yfix/config"
	"github.com/hazyhaar/a11yfix/coordinator"
	"github.com/hazyhaar/a11yfix/remedy"
	"github.com/hazyhaar/a11yfix/scanner"
	"github.com/hazyhaar/a11yfix/watcher"
)

// pipelineConfig translates the file configuration into coordinator
// wiring. base resolves relative image URLs and may be nil.
func pipelineConfig(cfg *config.Config, logger *slog.Logger, base *url.URL, validator scanner.Validator) (coordinator.Config, error) {
	describer, err := caption.FromConfig(cfg.Caption, logger)
	if err != nil {
		return coordinator.Config{}, err
	}

	scanOpts := []scanner.Option{
		scanner.WithLogger(logger),
		scanner.WithSampler(scanner.NewRateSampler(cfg.Scanner.StyleSampleRate, cfg.Scanner.Seed)),
		scanner.WithMinAltSize(cfg.Scanner.MinAltSize),
	}
	if validator != nil {
		scanOpts = append(scanOpts, scanner.WithValidator(validator))
	}

	remedyOpts := []remedy.Option{
		remedy.WithLogger(logger),
		remedy.WithDescriber(describer),
		remedy.WithCaptionMinSize(cfg.Caption.MinSize),
	}
	if base != nil {
		remedyOpts = append(remedyOpts, remedy.WithBaseURL(base))
	}

	return coordinator.Config{
		Watcher:    watcher.Config{Debounce: cfg.Watcher.Debounce, MaxBatch: cfg.Watcher.MaxBatch},
		Scanner:    scanOpts,
		Remedy:     remedyOpts,
		RescanCron: cfg.Rescan.Cron,
	}, nil
}
