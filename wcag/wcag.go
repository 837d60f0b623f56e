// Package wcag adapts external rule engines to the scanner's issue
// taxonomy.
package wcag

import (
	"context"

	"golang.org/x/net/html"

	"github.com/hazyhaar/a11yfix/dom"
	"github.com/hazyhaar/a11yfix/scanner"
)

// Violation is one rule failure reported by an engine.
type Violation struct {
	RuleID string
	Impact string
	Help   string
	Nodes  []*html.Node
}

// Result is the output of one validation run.
type Result struct {
	Violations []Violation
}

// RuleTypes maps engine rule ids to issue types. Rules not listed are
// dropped.
var RuleTypes = map[string]scanner.IssueType{
	"image-alt":            scanner.MissingAlt,
	"input-image-alt":      scanner.MissingAlt,
	"button-name":          scanner.MissingName,
	"link-name":            scanner.MissingName,
	"label":                scanner.UnlabeledForm,
	"select-name":          scanner.UnlabeledForm,
	"frame-title":          scanner.FrameMissingName,
	"heading-order":        scanner.HeadingSkip,
	"page-has-heading-one": scanner.MissingH1,
}

// ImpactPriority maps an engine impact level to a priority.
func ImpactPriority(impact string) scanner.Priority {
	switch impact {
	case "critical", "serious":
		return scanner.Critical
	case "moderate":
		return scanner.Important
	}
	return scanner.Cosmetic
}

// Issues converts a result, one issue per affected node.
func Issues(res Result) []scanner.Issue {
	var out []scanner.Issue
	for _, v := range res.Violations {
		typ, ok := RuleTypes[v.RuleID]
		if !ok {
			continue
		}
		desc := v.Help
		if desc == "" {
			desc = v.RuleID
		}
		for _, n := range v.Nodes {
			if n == nil {
				continue
			}
			out = append(out, scanner.Issue{
				Element:     n,
				Type:        typ,
				Priority:    ImpactPriority(v.Impact),
				Description: desc,
			})
		}
	}
	return out
}

// Static is the validator used when no rule engine is available. It
// reports nothing.
type Static struct{}

func (Static) Validate(context.Context, *dom.Document, *html.Node) ([]scanner.Issue, error) {
	return nil, nil
}
