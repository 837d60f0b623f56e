package scanner

import (
	"fmt"

	"golang.org/x/net/html"

	"github.com/hazyhaar/a11yfix/dom"
)

// IssueType names a class of accessibility defect.
type IssueType string

const (
	NonSemanticButton IssueType = "non-semantic-button"
	KeyboardAccess    IssueType = "keyboard-access"
	CSSEmphasis       IssueType = "css-emphasis"
	MissingName       IssueType = "missing-accessible-name"
	NewTabLink        IssueType = "new-tab-link"
	DisabledState     IssueType = "disabled-state"
	SplitAnchor       IssueType = "split-anchor"
	MissingAlt        IssueType = "missing-alt"
	MissingH1         IssueType = "missing-h1"
	HeadingSkip       IssueType = "heading-skip"
	UnlabeledForm     IssueType = "unlabeled-form-element"
	DisconnectedLabel IssueType = "disconnected-label"
	FrameMissingName  IssueType = "frame-missing-name"
)

// Priority orders remediation. Lower values go first.
type Priority int

const (
	Critical  Priority = 0
	Important Priority = 1
	Cosmetic  Priority = 2
)

func (p Priority) String() string {
	switch p {
	case Critical:
		return "critical"
	case Important:
		return "important"
	case Cosmetic:
		return "cosmetic"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// DefaultPriority is the priority locally detected issues of each type get.
var DefaultPriority = map[IssueType]Priority{
	NonSemanticButton: Critical,
	KeyboardAccess:    Critical,
	MissingName:       Critical,
	MissingAlt:        Critical,
	UnlabeledForm:     Critical,
	DisconnectedLabel: Important,
	NewTabLink:        Important,
	DisabledState:     Important,
	SplitAnchor:       Important,
	HeadingSkip:       Important,
	MissingH1:         Important,
	FrameMissingName:  Important,
	CSSEmphasis:       Cosmetic,
}

// Issue is one detected defect. Issues are rebuilt on every scan and only
// reference elements owned by the document.
type Issue struct {
	Element     *html.Node
	Type        IssueType
	Priority    Priority
	Description string

	// Hint is an optional remediation hint: the emphasis kind for
	// CSSEmphasis, the expected level for HeadingSkip, the combined phrase
	// for SplitAnchor.
	Hint string
	// Related is a second element the fix needs, such as the control
	// following a disconnected label.
	Related *html.Node
}

func (i Issue) String() string {
	return fmt.Sprintf("%s[%s] %s", i.Type, i.Priority, dom.Descriptor(i.Element))
}

func newIssue(n *html.Node, typ IssueType, desc string) Issue {
	return Issue{Element: n, Type: typ, Priority: DefaultPriority[typ], Description: desc}
}
