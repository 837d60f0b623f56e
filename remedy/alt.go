package remedy

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/a11yfix/dom"
	"github.com/hazyhaar/a11yfix/scanner"
	"github.com/hazyhaar/a11yfix/session"
)

// fixAlt resolves alternative text: aria-label, then title, then a caption
// for images large enough not to be icons, then the file name. The caption
// path completes asynchronously and reports through WithAsyncFix.
func (e *Engine) fixAlt(ctx context.Context, is scanner.Issue) (string, error) {
	n := is.Element
	if strings.TrimSpace(dom.Attr(n, "alt")) != "" {
		return "", nil
	}
	for _, a := range []string{"aria-label", "title"} {
		if v := normalize(dom.Attr(n, a)); v != "" {
			e.doc.SetAttr(n, "alt", v)
			return fmt.Sprintf("alt=%q from %s", v, a), nil
		}
	}

	src := strings.TrimSpace(dom.Attr(n, "src"))
	if e.captionable(n, src) {
		e.caption(n, e.resolve(src))
		return "", nil
	}

	alt := FilenameAlt(src)
	e.doc.SetAttr(n, "alt", alt)
	return fmt.Sprintf("alt=%q from file name", alt), nil
}

func (e *Engine) captionable(n *html.Node, src string) bool {
	if e.describer == nil || src == "" || strings.HasPrefix(strings.ToLower(src), "data:") {
		return false
	}
	r := e.doc.Rect(n)
	return r.Width > e.minSize && r.Height > e.minSize
}

// caption requests a description off the loop and writes the result, or
// the file name fallback, when it comes back.
func (e *Engine) caption(n *html.Node, imageURL string) {
	var (
		alt string
		err error
	)
	before := openTag(n)
	e.inflight++
	e.sess.Loop.Go(func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("remedy: describer panicked: %v", r)
			}
		}()
		alt, err = e.describer.Describe(e.ctx, imageURL)
	}, func() {
		e.inflight--
		if e.sess.Closed() || e.ctx.Err() != nil || !dom.Connected(n) {
			return
		}
		if strings.TrimSpace(dom.Attr(n, "alt")) != "" {
			return
		}
		source := "caption"
		if err != nil {
			source = "file name"
			e.logger.Info("remedy: caption unavailable, using file name", "url", imageURL, "error", err)
			alt = FilenameAlt(imageURL)
		}
		e.sess.Markers.Write(n, func() {
			e.doc.SetAttr(n, "alt", alt)
			e.doc.SetAttr(n, session.MarkerAttr, "true")
		})
		fixesTotal.WithLabelValues(string(scanner.MissingAlt)).Inc()
		log := e.newLog(n, scanner.MissingAlt, fmt.Sprintf("alt=%q from %s", alt, source), before)
		if e.onAsync != nil {
			e.onAsync(log)
		}
	})
}
