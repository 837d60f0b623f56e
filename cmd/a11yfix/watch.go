package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/a11yfix/config"
	"github.com/hazyhaar/a11yfix/connectivity"
	"github.com/hazyhaar/a11yfix/coordinator"
	"github.com/hazyhaar/a11yfix/dom"
	"github.com/hazyhaar/a11yfix/eventloop"
	"github.com/hazyhaar/a11yfix/livepage"
	"github.com/hazyhaar/a11yfix/scanner"
	"github.com/hazyhaar/a11yfix/server"
	"github.com/hazyhaar/a11yfix/session"
	"github.com/hazyhaar/a11yfix/store"
	"github.com/hazyhaar/a11yfix/wcag"
)

func newWatchCmd() *cobra.Command {
	var pageURL string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Repair a live browser tab and serve the message API until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if pageURL == "" {
				return fmt.Errorf("watch: --url is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return watch(cmd.Context(), cfg, newLogger(logLevel), pageURL)
		},
	}
	cmd.Flags().StringVar(&pageURL, "url", "", "page to open")
	return cmd
}

func watch(ctx context.Context, cfg *config.Config, logger *slog.Logger, pageURL string) error {
	base, err := url.Parse(pageURL)
	if err != nil {
		return fmt.Errorf("watch: url: %w", err)
	}
	st, db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	mgr := livepage.NewManager(livepage.Config{
		RemoteURL:        cfg.Browser.Remote,
		Stealth:          cfg.Browser.Stealth,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		Logger:           logger,
	})
	if err := mgr.Start(ctx); err != nil {
		return err
	}
	defer mgr.Close()

	// The loop outlives ctx so teardown can still run on it.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	loop := eventloop.New(eventloop.WithLogger(logger))
	go loop.Run(loopCtx)

	tab, err := livepage.Open(ctx, mgr, pageURL, loop)
	if err != nil {
		return err
	}
	defer tab.Close()

	router := connectivity.New(connectivity.WithLogger(logger),
		connectivity.WithMiddleware(connectivity.Recovery(logger), connectivity.Logging(logger, "messages")))
	serving := false

	for {
		c, err := attach(ctx, cfg, logger, tab, loop, base, st)
		if err != nil {
			return err
		}
		c.Register(router)
		if !serving {
			serving = true
			srv := server.New(router, server.WithLogger(logger))
			go func() {
				if err := srv.ListenAndServe(ctx, cfg.Server.Addr); err != nil {
					logger.Error("watch: server", "error", err)
				}
			}()
		}

		select {
		case <-ctx.Done():
			onLoop(loop, c.Close)
			return nil
		case <-tab.Resets():
			logger.Info("watch: page replaced, reattaching", "url", pageURL)
			onLoop(loop, c.Close)
		}
	}
}

// attach mirrors the tab and initialises a coordinator on it.
func attach(ctx context.Context, cfg *config.Config, logger *slog.Logger, tab *livepage.Tab,
	loop *eventloop.Loop, base *url.URL, st *store.Store) (*coordinator.Coordinator, error) {
	doc, err := tab.Mirror(ctx, dom.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	var validator scanner.Validator = wcag.Static{}
	if cfg.Browser.AxeScript != "" {
		axe, err := wcag.LoadAxe(tab.Page, cfg.Browser.AxeScript)
		if err != nil {
			return nil, err
		}
		validator = axe
	}
	ccfg, err := pipelineConfig(cfg, logger, base, validator)
	if err != nil {
		return nil, err
	}
	ccfg.Reload = func() {
		if cfg.Browser.KeepOnToggle {
			return
		}
		go func() {
			if err := tab.Reload(ctx); err != nil {
				logger.Error("watch: reload", "error", err)
			}
		}()
	}

	c := coordinator.New(session.New(doc, session.WithLogger(logger)), st, ccfg)
	onLoop(loop, func() {
		if err := c.Init(ctx); err != nil {
			logger.Error("watch: init failed, page left untouched", "error", err)
		}
	})
	return c, nil
}

// onLoop runs fn on the loop goroutine and waits for it.
func onLoop(loop *eventloop.Loop, fn func()) {
	done := make(chan struct{})
	loop.Post(func() {
		defer close(done)
		fn()
	})
	<-done
}
