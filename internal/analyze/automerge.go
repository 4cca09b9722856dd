// Package analyze scores pull requests for auto-merge eligibility. The
// score is a weighted tally of confidence and risk factors drawn from the
// diff shape, metadata, and author; the orchestrator merges only when
// confidence is high, risk is low, and no protected file is touched.
package analyze

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/issuepilot/issuepilot/internal/github"
)

// Decision thresholds.
const (
	// MinConfidence is the minimum confidence (0-100) for auto-merge.
	MinConfidence = 85

	// MaxRisk is the maximum risk score (0-10) for auto-merge.
	MaxRisk = 3
)

// Factor is one scored observation about the pull request.
type Factor struct {
	Reason string
	Weight int
}

// Assessment is the auto-merge verdict for one pull request.
type Assessment struct {
	ShouldAutoMerge bool
	Confidence      float64 // 0-100
	RiskScore       float64 // 0-10
	Strategy        string  // rebase, squash, or merge
	ConfidenceFor   []Factor
	RiskFor         []Factor
	ProtectedFiles  []string // Non-empty forces manual review
}

// Summary renders a short human-readable explanation of the verdict.
func (a *Assessment) Summary() string {
	var b strings.Builder
	if a.ShouldAutoMerge {
		fmt.Fprintf(&b, "approved for auto-merge: confidence %.0f%%, risk %.0f/10", a.Confidence, a.RiskScore)
		return b.String()
	}

	b.WriteString("manual review required:")
	if a.Confidence < MinConfidence {
		fmt.Fprintf(&b, " confidence %.0f%% below %d%%;", a.Confidence, MinConfidence)
	}
	if a.RiskScore > MaxRisk {
		fmt.Fprintf(&b, " risk %.0f/10 above %d;", a.RiskScore, MaxRisk)
	}
	if len(a.ProtectedFiles) > 0 {
		fmt.Fprintf(&b, " protected files changed (%s);", strings.Join(a.ProtectedFiles, ", "))
	}
	return strings.TrimSuffix(b.String(), ";")
}

// Analyzer scores pull requests. Zero value uses the default protected
// set.
type Analyzer struct {
	// ProtectedFiles are exact paths that always force manual review.
	ProtectedFiles []string

	// ProtectedDirs are path prefixes that always force manual review.
	ProtectedDirs []string

	// TrustedAuthors are bot accounts whose PRs gain confidence.
	TrustedAuthors []string
}

// NewAnalyzer creates an analyzer with the default protected set: CI
// workflows and dependency manifests are never auto-merged.
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		ProtectedFiles: []string{"go.mod", "go.sum", "Dockerfile"},
		ProtectedDirs:  []string{".github/workflows/"},
		TrustedAuthors: []string{"github-actions[bot]", "dependabot[bot]", "renovate[bot]"},
	}
}

var conventionalTitle = regexp.MustCompile(`^(feat|fix|docs|style|refactor|test|chore|build|ci|perf|revert)(\(.+\))?: .+`)

// Assess scores a pull request and its changed files.
func (a *Analyzer) Assess(pr *github.PullRequest, files []github.PullFile) *Assessment {
	out := &Assessment{Strategy: "merge"}

	a.scoreChanges(out, files)
	a.scoreMetadata(out, pr)
	a.scoreAuthor(out, pr)
	a.scoreTests(out, files)

	var confidence, risk int
	for _, f := range out.ConfidenceFor {
		confidence += f.Weight
	}
	for _, f := range out.RiskFor {
		risk += f.Weight
	}

	// Normalize: confidence to 0-100 centered at 50, risk clamped to 0-10.
	out.Confidence = clamp(float64((confidence-risk)*10+50), 0, 100)
	out.RiskScore = clamp(float64(risk), 0, 10)

	out.ShouldAutoMerge = out.Confidence >= MinConfidence &&
		out.RiskScore <= MaxRisk &&
		len(out.ProtectedFiles) == 0 &&
		!pr.Draft

	switch {
	case len(files) == 1 && out.Confidence > 95:
		out.Strategy = "rebase"
	case out.Confidence > 90:
		out.Strategy = "squash"
	}

	return out
}

func (a *Analyzer) scoreChanges(out *Assessment, files []github.PullFile) {
	var added, deleted, safe, risky int
	docsOnly := len(files) > 0

	for _, f := range files {
		added += f.Additions
		deleted += f.Deletions

		switch {
		case isSafeFile(f.Filename):
			safe++
		case isSourceFile(f.Filename):
			risky++
			docsOnly = false
		default:
			docsOnly = false
		}

		if a.isProtected(f.Filename) {
			out.ProtectedFiles = append(out.ProtectedFiles, f.Filename)
			out.RiskFor = append(out.RiskFor, Factor{"protected file: " + f.Filename, 5})
		}
	}

	total := added + deleted
	switch {
	case total > 500:
		out.RiskFor = append(out.RiskFor, Factor{"large changeset", 3})
	case total > 100:
		out.RiskFor = append(out.RiskFor, Factor{"medium changeset", 1})
	default:
		out.ConfidenceFor = append(out.ConfidenceFor, Factor{"small changeset", 2})
	}

	if risky > 0 {
		out.RiskFor = append(out.RiskFor, Factor{fmt.Sprintf("source files changed: %d", risky), 2})
	}
	if safe > 0 {
		out.ConfidenceFor = append(out.ConfidenceFor, Factor{fmt.Sprintf("safe files: %d", safe), 1})
	}
	if docsOnly {
		out.ConfidenceFor = append(out.ConfidenceFor, Factor{"documentation-only changes", 5})
	}
}

func (a *Analyzer) scoreMetadata(out *Assessment, pr *github.PullRequest) {
	if conventionalTitle.MatchString(pr.Title) {
		out.ConfidenceFor = append(out.ConfidenceFor, Factor{"conventional commit title", 1})
	}
	if len(pr.Body) > 50 {
		out.ConfidenceFor = append(out.ConfidenceFor, Factor{"detailed description", 1})
	} else {
		out.RiskFor = append(out.RiskFor, Factor{"missing description", 1})
	}
	if pr.Mergeable != nil && !*pr.Mergeable {
		out.RiskFor = append(out.RiskFor, Factor{"merge conflicts", 5})
	}
}

func (a *Analyzer) scoreAuthor(out *Assessment, pr *github.PullRequest) {
	if pr.User == nil {
		return
	}
	login := strings.ToLower(pr.User.Login)
	for _, trusted := range a.TrustedAuthors {
		if login == strings.ToLower(trusted) {
			out.ConfidenceFor = append(out.ConfidenceFor, Factor{"trusted automation account", 4})
			return
		}
	}
	out.RiskFor = append(out.RiskFor, Factor{"human author", 1})
}

func (a *Analyzer) scoreTests(out *Assessment, files []github.PullFile) {
	var source, tests bool
	for _, f := range files {
		switch {
		case isTestFile(f.Filename):
			tests = true
		case isSourceFile(f.Filename):
			source = true
		}
	}

	switch {
	case source && tests:
		out.ConfidenceFor = append(out.ConfidenceFor, Factor{"includes test changes", 3})
	case !source:
		out.ConfidenceFor = append(out.ConfidenceFor, Factor{"no source changes", 1})
	default:
		out.RiskFor = append(out.RiskFor, Factor{"source changes without tests", 2})
	}
}

func (a *Analyzer) isProtected(filename string) bool {
	for _, f := range a.ProtectedFiles {
		if filename == f {
			return true
		}
	}
	for _, dir := range a.ProtectedDirs {
		if strings.HasPrefix(filename, dir) {
			return true
		}
	}
	return false
}

func isSafeFile(filename string) bool {
	base := path.Base(filename)
	switch {
	case strings.HasSuffix(filename, ".md"),
		strings.HasPrefix(filename, "docs/"),
		base == ".gitignore", base == "LICENSE":
		return true
	}
	return isTestFile(filename)
}

func isTestFile(filename string) bool {
	return strings.HasSuffix(filename, "_test.go") ||
		strings.HasPrefix(filename, "tests/") ||
		strings.Contains(strings.ToLower(path.Base(filename)), "test")
}

func isSourceFile(filename string) bool {
	return strings.HasSuffix(filename, ".go") && !strings.HasSuffix(filename, "_test.go")
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
