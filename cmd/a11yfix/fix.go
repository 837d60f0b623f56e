package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/a11yfix/config"
	"github.com/hazyhaar/a11yfix/coordinator"
	"github.com/hazyhaar/a11yfix/dom"
	"github.com/hazyhaar/a11yfix/eventloop"
	"github.com/hazyhaar/a11yfix/session"
	"github.com/hazyhaar/a11yfix/store"
	"github.com/hazyhaar/a11yfix/wcag"
)

func newFixCmd() *cobra.Command {
	var in, out, base string
	cmd := &cobra.Command{
		Use:   "fix",
		Short: "Repair one HTML document offline and print the statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(logLevel)

			st, db, err := store.Open(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer db.Close()

			r := io.Reader(os.Stdin)
			if in != "" && in != "-" {
				f, err := os.Open(in)
				if err != nil {
					return fmt.Errorf("fix: %w", err)
				}
				defer f.Close()
				r = f
			}
			w := io.Writer(os.Stdout)
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("fix: %w", err)
				}
				defer f.Close()
				w = f
			}

			stats, err := fixDocument(cmd.Context(), cfg, logger, st, r, w, base)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.ErrOrStderr())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}
	cmd.Flags().StringVar(&in, "in", "-", "input HTML file (- for stdin)")
	cmd.Flags().StringVar(&out, "out", "-", "output HTML file (- for stdout)")
	cmd.Flags().StringVar(&base, "base", "", "base URL for relative image sources")
	return cmd
}

// fixDocument runs the pipeline over one document on a virtual-time loop:
// the full pass, every caption request, then enough virtual time for all
// write markers to decay.
func fixDocument(ctx context.Context, cfg *config.Config, logger *slog.Logger, settings coordinator.Settings,
	r io.Reader, w io.Writer, base string) (coordinator.Stats, error) {
	var baseURL *url.URL
	if base != "" {
		u, err := url.Parse(base)
		if err != nil {
			return coordinator.Stats{}, fmt.Errorf("fix: base url: %w", err)
		}
		baseURL = u
	}

	loop := eventloop.NewManual(time.Now(), eventloop.WithLogger(logger))
	doc, err := dom.Parse(r, loop, dom.WithLogger(logger))
	if err != nil {
		return coordinator.Stats{}, err
	}
	sess := session.New(doc, session.WithLogger(logger))

	ccfg, err := pipelineConfig(cfg, logger, baseURL, wcag.Static{})
	if err != nil {
		return coordinator.Stats{}, err
	}
	ccfg.RescanCron = ""
	c := coordinator.New(sess, settings, ccfg)

	loop.Do(func() { err = c.Init(ctx) })
	if err != nil {
		return coordinator.Stats{}, err
	}
	loop.Settle()
	loop.Advance(sess.Markers.Decay() + time.Second)
	stats := c.Stats()
	loop.Do(c.Close)

	if err := doc.Render(w); err != nil {
		return stats, fmt.Errorf("fix: render: %w", err)
	}
	return stats, nil
}
