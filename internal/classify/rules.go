// Package classify analyzes issue content and recommends a remediation
// route: issue type, priority, complexity, confidence, and the agent/model
// pairing with its estimated cost.
//
// The default classifier is a pure keyword heuristic. When an Anthropic API
// key is configured, the Claude-backed classifier refines the heuristic's
// confidence; it always falls back to the rules on error, so classification
// never depends on API availability.
package classify

import (
	"context"
	"strings"

	"github.com/issuepilot/issuepilot/internal/types"
)

// Classifier analyzes an issue and returns a routing recommendation.
type Classifier interface {
	Analyze(ctx context.Context, payload types.IssuePayload) (*types.Classification, error)
}

// route pairs an issue type with its remediation agent, model tier, and
// per-run cost estimate.
type route struct {
	issueType string
	agent     string
	model     string
	cost      float64
	hours     float64
}

// routes in match order: first keyword hit wins. The fallback route is
// applied when nothing matches.
var routes = []struct {
	keywords []string
	route    route
}{
	{
		keywords: []string{"typo", "documentation", "docs", "readme"},
		route:    route{"documentation", "comprehensive-researcher", "haiku", 0.005, 0.5},
	},
	{
		keywords: []string{"bug", "error", "crash", "fix"},
		route:    route{"bug", "debugger", "sonnet", 0.025, 1.5},
	},
	{
		keywords: []string{"feature", "enhancement", "add"},
		route:    route{"feature", "backend-architect", "opus", 0.150, 4.0},
	},
	{
		keywords: []string{"security", "vulnerability"},
		route:    route{"security", "security-auditor", "opus", 0.200, 3.0},
	},
}

var fallbackRoute = route{"general", "general-purpose", "sonnet", 0.040, 2.0}

// ruleConfidence is the conservative confidence assigned to purely
// rule-based classifications.
const ruleConfidence = 0.6

// Rules is the keyword-heuristic classifier. Pure function of the payload.
type Rules struct{}

// NewRules creates the rule-based classifier.
func NewRules() *Rules { return &Rules{} }

// Analyze classifies the issue from keywords in title, body, and labels.
// It never fails and ignores the context; the signature matches the
// Classifier interface so callers can swap in the Claude classifier.
func (r *Rules) Analyze(_ context.Context, payload types.IssuePayload) (*types.Classification, error) {
	text := strings.ToLower(payload.Title + " " + payload.Body)

	matched := fallbackRoute
	for _, entry := range routes {
		if containsAny(text, entry.keywords) {
			matched = entry.route
			break
		}
	}

	return &types.Classification{
		IssueType:       matched.issueType,
		Priority:        priorityFor(text, payload.Labels),
		ComplexityScore: complexityFor(payload),
		ConfidenceScore: ruleConfidence,
		Agent:           matched.agent,
		Model:           matched.model,
		EstimatedCost:   matched.cost,
		EstimatedHours:  matched.hours * complexityFor(payload),
	}, nil
}

// priorityFor derives priority from labels first, content second.
func priorityFor(text string, labels []string) string {
	lower := make([]string, len(labels))
	for i, l := range labels {
		lower[i] = strings.ToLower(l)
	}

	switch {
	case hasAny(lower, "critical", "urgent", "p0"):
		return "critical"
	case hasAny(lower, "high", "important", "p1"):
		return "high"
	case containsAny(text, []string{"crash", "500", "down", "broken"}):
		return "high"
	case hasAny(lower, "low", "minor", "p3"):
		return "low"
	default:
		return "medium"
	}
}

// complexityFor estimates complexity 0..1 from content size and shape.
func complexityFor(payload types.IssuePayload) float64 {
	text := strings.ToLower(payload.Title + " " + payload.Body)

	score := 0.3 // Base complexity
	if len(payload.Title)+len(payload.Body) > 1000 {
		score += 0.2
	}
	if containsAny(text, []string{"refactor", "architecture"}) {
		score += 0.3
	}
	if len(payload.Labels) > 3 {
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func hasAny(values []string, wanted ...string) bool {
	for _, v := range values {
		for _, w := range wanted {
			if v == w {
				return true
			}
		}
	}
	return false
}
