// Package coordinator wires the scanner, the remediation engine, the ARIA
// enricher and the watcher into the page lifecycle.
//
// Init runs one full pass over the document and then hands control to the
// watcher, whose batches drive incremental passes over the changed
// subtrees. Failures during initialisation leave the page untouched.
// Everything except the message handlers runs on the session loop.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/robfig/cron/v3"
	"golang.org/x/net/html"

	"github.com/hazyhaar/a11yfix/aria"
	"github.com/hazyhaar/a11yfix/dom"
	"github.com/hazyhaar/a11yfix/remedy"
	"github.com/hazyhaar/a11yfix/scanner"
	"github.com/hazyhaar/a11yfix/session"
	"github.com/hazyhaar/a11yfix/watcher"
)

// DefaultLogCapacity bounds the fix log kept for GET_STATS.
const DefaultLogCapacity = 50

// Settings holds the persisted enabled flag. *store.Store implements it.
type Settings interface {
	Enabled(ctx context.Context) (bool, error)
	Toggle(ctx context.Context) (bool, error)
}

// Stats is the GET_STATS response.
type Stats struct {
	IssuesFound         int             `json:"issuesFound"`
	IssuesFixed         int             `json:"issuesFixed"`
	AriaAttributesAdded int             `json:"ariaAttributesAdded"`
	Logs                []remedy.FixLog `json:"logs"`
	Enabled             bool            `json:"enabled"`
}

// Config wires the components.
type Config struct {
	Watcher watcher.Config
	Scanner []scanner.Option
	Remedy  []remedy.Option

	// RescanCron schedules periodic full passes (robfig/cron syntax,
	// "@every 1m" included). Empty disables them.
	RescanCron string
	// LogCapacity bounds the fix log. Default: 50.
	LogCapacity int
	// Reload is called after TOGGLE_ENABLED persisted the new flag. It
	// should reload the page so Init runs again. May be nil.
	Reload func()
}

// Coordinator owns the per-page pipeline.
type Coordinator struct {
	sess     *session.Session
	doc      *dom.Document
	logger   *slog.Logger
	settings Settings
	cfg      Config

	scanner  *scanner.Scanner
	engine   *remedy.Engine
	enricher *aria.Enricher
	watcher  *watcher.Watcher
	cron     *cron.Cron

	ctx    context.Context
	active bool

	mu    sync.Mutex
	stats Stats
}

// New builds a coordinator. Nothing runs until Init.
func New(sess *session.Session, settings Settings, cfg Config) *Coordinator {
	if cfg.LogCapacity <= 0 {
		cfg.LogCapacity = DefaultLogCapacity
	}
	c := &Coordinator{
		sess:     sess,
		doc:      sess.Doc,
		logger:   sess.Logger,
		settings: settings,
		cfg:      cfg,
		ctx:      context.Background(),
	}
	c.scanner = scanner.New(sess.Doc, append([]scanner.Option{scanner.WithLogger(sess.Logger)}, cfg.Scanner...)...)
	c.engine = remedy.New(sess, append(slices.Clone(cfg.Remedy), remedy.WithAsyncFix(c.recordFix))...)
	c.enricher = aria.New(sess)
	c.watcher = watcher.New(sess, cfg.Watcher, c.onBatch)
	return c
}

// Init reads the enabled flag and, when enabled, runs the full pass and
// starts watching the body. It must run on the loop goroutine. An error
// means the page was left inert.
func (c *Coordinator) Init(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("coordinator: init panicked: %v", r)
		}
		if err != nil {
			c.logger.Error("coordinator: init failed, page left inert", "error", err)
			c.watcher.Stop()
			c.active = false
		}
	}()

	on, err := c.settings.Enabled(ctx)
	if err != nil {
		return fmt.Errorf("coordinator: read enabled flag: %w", err)
	}
	c.mu.Lock()
	c.stats.Enabled = on
	c.mu.Unlock()
	if !on {
		c.logger.Info("coordinator: disabled, not initialising")
		return nil
	}

	c.ctx = ctx
	body := c.doc.Body()
	if body == nil {
		return fmt.Errorf("coordinator: document has no body")
	}
	c.FullPass()
	if err := c.watcher.Start(body); err != nil {
		return err
	}
	if err := c.startRescan(); err != nil {
		return err
	}
	c.active = true
	c.logger.Info("coordinator: initialised", "issues_found", c.Stats().IssuesFound)
	return nil
}

// Active reports whether Init completed with the feature enabled.
func (c *Coordinator) Active() bool { return c.active }

// FullPass scans the whole document with the validator, fixes what it
// found in priority order and enriches the body.
func (c *Coordinator) FullPass() {
	body := c.doc.Body()
	if body == nil || c.sess.Closed() {
		return
	}
	issues := c.scanner.Scan(c.ctx, body, scanner.ScanOptions{Full: true})
	logs := c.engine.ApplyAll(c.ctx, issues)
	added := c.enricher.Apply(body)
	c.record(len(issues), logs, added)
	c.logger.Debug("coordinator: full pass", "issues", len(issues), "fixed", len(logs), "aria", added)
}

// onBatch is the watcher callback: an incremental pass over the changed
// subtrees, without the validator.
func (c *Coordinator) onBatch(batch []dom.MutationRecord) error {
	roots := subtreeRoots(watcher.Nodes(batch))
	var issues []scanner.Issue
	for _, root := range roots {
		issues = append(issues, c.scanner.Scan(c.ctx, root, scanner.ScanOptions{})...)
	}
	slices.SortStableFunc(issues, func(a, b scanner.Issue) int { return int(a.Priority) - int(b.Priority) })
	logs := c.engine.ApplyAll(c.ctx, issues)
	added := 0
	for _, root := range roots {
		added += c.enricher.Apply(root)
	}
	c.record(len(issues), logs, added)
	c.logger.Debug("coordinator: incremental pass", "records", len(batch), "roots", len(roots),
		"issues", len(issues), "fixed", len(logs), "aria", added)
	return nil
}

// subtreeRoots keeps the connected elements of nodes that are not inside
// another one.
func subtreeRoots(nodes []*html.Node) []*html.Node {
	var elems []*html.Node
	for _, n := range nodes {
		if dom.IsElement(n) && dom.Connected(n) {
			elems = append(elems, n)
		}
	}
	var roots []*html.Node
	for _, n := range elems {
		nested := false
		for _, other := range elems {
			if other != n && dom.Contains(other, n) {
				nested = true
				break
			}
		}
		if !nested {
			roots = append(roots, n)
		}
	}
	return roots
}

// SuppressDuring runs a large synchronous rewrite with observation paused.
func (c *Coordinator) SuppressDuring(fn func()) {
	c.watcher.Pause()
	defer c.watcher.Resume()
	fn()
}

// Watcher exposes the watcher for statistics.
func (c *Coordinator) Watcher() *watcher.Watcher { return c.watcher }

// Engine exposes the remediation engine.
func (c *Coordinator) Engine() *remedy.Engine { return c.engine }

func (c *Coordinator) startRescan() error {
	if c.cfg.RescanCron == "" {
		return nil
	}
	c.cron = cron.New()
	_, err := c.cron.AddFunc(c.cfg.RescanCron, func() {
		c.sess.Loop.Post(c.FullPass)
	})
	if err != nil {
		return fmt.Errorf("coordinator: rescan schedule %q: %w", c.cfg.RescanCron, err)
	}
	c.cron.Start()
	return nil
}

// Close stops the watcher and the rescan schedule and tears the session
// down. It must run on the loop goroutine.
func (c *Coordinator) Close() {
	if c.cron != nil {
		<-c.cron.Stop().Done()
	}
	c.watcher.Stop()
	c.engine.Close()
	c.sess.Close()
	c.active = false
}

func (c *Coordinator) record(found int, logs []remedy.FixLog, ariaAdded int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.IssuesFound += found
	c.stats.AriaAttributesAdded += ariaAdded
	for _, l := range logs {
		c.appendLog(l)
	}
}

func (c *Coordinator) recordFix(l remedy.FixLog) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appendLog(l)
}

// appendLog counts a fix and keeps the newest LogCapacity entries.
// Callers hold mu.
func (c *Coordinator) appendLog(l remedy.FixLog) {
	c.stats.IssuesFixed++
	c.stats.Logs = append(c.stats.Logs, l)
	if over := len(c.stats.Logs) - c.cfg.LogCapacity; over > 0 {
		c.stats.Logs = slices.Delete(c.stats.Logs, 0, over)
	}
}

// Stats returns a snapshot. Safe from any goroutine.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Logs = slices.Clone(c.stats.Logs)
	if s.Logs == nil {
		s.Logs = []remedy.FixLog{}
	}
	return s
}

// ClearLogs empties the fix log. Counters are kept.
func (c *Coordinator) ClearLogs() {
	c.mu.Lock()
	c.stats.Logs = nil
	c.mu.Unlock()
}

// ToggleEnabled persists the inverted flag and triggers the reload hook.
func (c *Coordinator) ToggleEnabled(ctx context.Context) (bool, error) {
	on, err := c.settings.Toggle(ctx)
	if err != nil {
		return false, fmt.Errorf("coordinator: toggle: %w", err)
	}
	c.mu.Lock()
	c.stats.Enabled = on
	c.mu.Unlock()
	c.logger.Info("coordinator: enabled flag toggled", "enabled", on)
	if c.cfg.Reload != nil {
		c.cfg.Reload()
	}
	return on, nil
}
