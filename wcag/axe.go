package wcag

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-rod/rod"
	"golang.org/x/net/html"

	"github.com/hazyhaar/a11yfix/dom"
	"github.com/hazyhaar/a11yfix/scanner"
)

// Axe runs axe-core inside a live page. Violation targets come back as CSS
// selectors and are resolved against the mirror document.
type Axe struct {
	page   *rod.Page
	source string
}

// NewAxe returns a validator injecting source (the axe-core bundle) into
// page before each run.
func NewAxe(page *rod.Page, source string) *Axe {
	return &Axe{page: page, source: source}
}

// LoadAxe reads the axe-core bundle from path.
func LoadAxe(page *rod.Page, path string) (*Axe, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wcag: load axe: %w", err)
	}
	return NewAxe(page, string(b)), nil
}

const axeRun = `() => axe.run(document, {resultTypes: ['violations']}).then(r => JSON.stringify(
	r.violations.map(v => ({
		id: v.id,
		impact: v.impact || '',
		help: v.help || '',
		targets: v.nodes.map(n => n.target.filter(t => typeof t === 'string').join(' ')),
	}))
))`

type axeViolation struct {
	ID      string   `json:"id"`
	Impact  string   `json:"impact"`
	Help    string   `json:"help"`
	Targets []string `json:"targets"`
}

func (a *Axe) Validate(ctx context.Context, doc *dom.Document, root *html.Node) ([]scanner.Issue, error) {
	page := a.page.Context(ctx)
	loaded, err := page.Eval(`() => typeof axe !== 'undefined'`)
	if err != nil {
		return nil, fmt.Errorf("wcag: axe probe: %w", err)
	}
	if !loaded.Value.Bool() {
		if err := page.AddScriptTag("", a.source); err != nil {
			return nil, fmt.Errorf("wcag: inject axe: %w", err)
		}
	}

	res, err := page.Eval(axeRun)
	if err != nil {
		return nil, fmt.Errorf("wcag: axe run: %w", err)
	}
	var raw []axeViolation
	if err := json.Unmarshal([]byte(res.Value.Str()), &raw); err != nil {
		return nil, fmt.Errorf("wcag: decode axe result: %w", err)
	}
	return Issues(resolve(doc, root, raw)), nil
}

// resolve maps selector targets onto mirror nodes inside root.
func resolve(doc *dom.Document, root *html.Node, raw []axeViolation) Result {
	var res Result
	for _, v := range raw {
		out := Violation{RuleID: v.ID, Impact: v.Impact, Help: v.Help}
		for _, sel := range v.Targets {
			n := dom.Query(doc.Root(), sel)
			if n == nil || !dom.Contains(root, n) {
				continue
			}
			out.Nodes = append(out.Nodes, n)
		}
		res.Violations = append(res.Violations, out)
	}
	return res
}
