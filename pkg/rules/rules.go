package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sultanovich/prtguard/pkg/parser"
	"github.com/sultanovich/prtguard/pkg/shell"
)

// SensitiveTrigger is the workflow event that runs with the base
// repository's privilege level even for pull requests from forks.
const SensitiveTrigger = "pull_request_target"

// Severity represents the severity level of a finding
type Severity string

const (
	Critical Severity = "CRITICAL"
	High     Severity = "HIGH"
	Medium   Severity = "MEDIUM"
	Low      Severity = "LOW"
	Info     Severity = "INFO"
)

// SeverityRank returns the ordinal position of a severity on the scale
// INFO < LOW < MEDIUM < HIGH < CRITICAL. Unknown severities rank lowest.
func SeverityRank(s Severity) int {
	switch s {
	case Critical:
		return 4
	case High:
		return 3
	case Medium:
		return 2
	case Low:
		return 1
	case Info:
		return 0
	}
	return -1
}

// Kind distinguishes rule findings from the recoverable non-rule entries
// the analyzer can produce for a document.
type Kind string

const (
	// KindMisconfiguration is a job-level rule finding.
	KindMisconfiguration Kind = "MISCONFIGURATION"
	// KindParseError records a workflow file that could not be parsed.
	KindParseError Kind = "PARSE_ERROR"
	// KindManualReview marks a document that declares the sensitive
	// trigger but whose jobs fired no content rule.
	KindManualReview Kind = "MANUAL_REVIEW"
	// KindPolicyViolation is produced by user-supplied Rego policies, not
	// by the built-in rule set.
	KindPolicyViolation Kind = "POLICY_VIOLATION"
)

// Tag identifies one rule condition contributing to a job finding.
type Tag string

const (
	TagHeadRefCheckout    Tag = "HEAD_REF_CHECKOUT"
	TagSecretExposure     Tag = "SECRET_EXPOSURE"
	TagMissingForkGuard   Tag = "MISSING_FORK_GUARD"
	TagMissingPermissions Tag = "MISSING_PERMISSIONS"
)

// tagSeverity is the base severity of each rule tag. A job finding carries
// the maximum over its tags; the checkout+secret combination escalates to
// CRITICAL after all content rules have been evaluated.
var tagSeverity = map[Tag]Severity{
	TagHeadRefCheckout:    High,
	TagSecretExposure:     High,
	TagMissingForkGuard:   Medium,
	TagMissingPermissions: Medium,
}

var tagDescription = map[Tag]string{
	TagHeadRefCheckout:    "checkout of pull request head ref",
	TagSecretExposure:     "secrets or GITHUB_TOKEN usage",
	TagMissingForkGuard:   "no fork guard condition",
	TagMissingPermissions: "permissions not set",
}

// Finding represents one detected misconfiguration, scoped to a job for
// rule findings and to the whole file otherwise. Findings are never
// mutated after creation.
type Finding struct {
	Kind         Kind     `json:"kind"`
	Repository   string   `json:"repository"`
	WorkflowPath string   `json:"workflowPath"`
	WorkflowName string   `json:"workflowName"`
	JobID        string   `json:"jobId,omitempty"`
	Tags         []Tag    `json:"tags,omitempty"`
	Severity     Severity `json:"severity"`
	Description  string   `json:"description"`
	Evidence     string   `json:"evidence,omitempty"`
	Remediation  string   `json:"remediation,omitempty"`
}

// Analyze evaluates the fixed rule set against one workflow document and
// returns its findings. Evaluation is pure and deterministic: it performs
// no I/O and the same document always yields the same findings in the same
// order. The input document is never mutated.
func Analyze(wf parser.WorkflowFile) []Finding {
	if wf.ParseErr != nil {
		return []Finding{{
			Kind:         KindParseError,
			Repository:   wf.Repository,
			WorkflowPath: wf.Path,
			WorkflowName: wf.Name,
			Severity:     Low,
			Description:  "workflow file could not be parsed; rule evaluation skipped",
			Evidence:     wf.ParseErr.Error(),
		}}
	}

	// Rule 1: without the sensitive trigger no further rule fires.
	if !wf.Workflow.HasTrigger(SensitiveTrigger) {
		return nil
	}

	jobIDs := make([]string, 0, len(wf.Workflow.Jobs))
	for id := range wf.Workflow.Jobs {
		jobIDs = append(jobIDs, id)
	}
	sort.Strings(jobIDs)

	var findings []Finding
	for _, jobID := range jobIDs {
		job := wf.Workflow.Jobs[jobID]
		if f, ok := analyzeJob(wf, jobID, job); ok {
			findings = append(findings, f)
		}
	}

	if len(findings) == 0 {
		findings = append(findings, Finding{
			Kind:         KindManualReview,
			Repository:   wf.Repository,
			WorkflowPath: wf.Path,
			WorkflowName: wf.Name,
			Severity:     Info,
			Description:  "workflow uses " + SensitiveTrigger + "; no rule fired, manual review advised",
		})
	}

	return findings
}

// analyzeJob evaluates rules 2-5 for one job and aggregates the firing
// tags into a single finding. Composite severity is computed only after
// every content rule has been evaluated.
func analyzeJob(wf parser.WorkflowFile, jobID string, job parser.Job) (Finding, bool) {
	var tags []Tag
	var evidence []string

	// Rule 2: head-ref checkout.
	if ref, ok := headRefCheckout(job); ok {
		tags = append(tags, TagHeadRefCheckout)
		evidence = append(evidence, "checkout ref: "+ref)
	}

	// Rule 3: secret or default-token reference.
	if step, ok := secretReference(job); ok {
		tags = append(tags, TagSecretExposure)
		evidence = append(evidence, "secret reference in step: "+stepLabel(step))
	}

	// Rule 4: no fork guard at job or step level.
	if !hasForkGuard(job) {
		tags = append(tags, TagMissingForkGuard)
	}

	// Rule 5: no explicit permissions block at document or job level.
	if !wf.Workflow.HasExplicitPermissions() && !job.HasExplicitPermissions() {
		tags = append(tags, TagMissingPermissions)
	}

	if len(tags) == 0 {
		return Finding{}, false
	}

	severity := CompositeSeverity(tags)

	descriptions := make([]string, len(tags))
	for i, tag := range tags {
		descriptions[i] = tagDescription[tag]
	}

	return Finding{
		Kind:         KindMisconfiguration,
		Repository:   wf.Repository,
		WorkflowPath: wf.Path,
		WorkflowName: wf.Name,
		JobID:        jobID,
		Tags:         tags,
		Severity:     severity,
		Description:  strings.Join(descriptions, "; "),
		Evidence:     strings.Join(evidence, "; "),
		Remediation:  "Restrict " + SensitiveTrigger + " jobs: check out the base ref only, guard against fork-originated pull requests, and declare a read-only permissions block",
	}, true
}

// CompositeSeverity computes the severity of a job finding from its tag
// set: the maximum base severity of the tags, escalated to CRITICAL when a
// head-ref checkout and a secret reference occur in the same job.
func CompositeSeverity(tags []Tag) Severity {
	severity := Info
	for _, tag := range tags {
		if SeverityRank(tagSeverity[tag]) > SeverityRank(severity) {
			severity = tagSeverity[tag]
		}
	}
	if hasTag(tags, TagHeadRefCheckout) && hasTag(tags, TagSecretExposure) {
		severity = Critical
	}
	return severity
}

// headRefCheckout reports whether any step checks out the pull request
// head ref instead of the base ref.
func headRefCheckout(job parser.Job) (string, bool) {
	for _, step := range job.Steps {
		if !strings.HasPrefix(step.Uses, "actions/checkout@") {
			continue
		}
		ref, ok := step.With["ref"].(string)
		if !ok {
			continue
		}
		if strings.Contains(ref, "github.event.pull_request.head.ref") ||
			strings.Contains(ref, "github.event.pull_request.head.sha") ||
			strings.Contains(ref, "github.head_ref") {
			return ref, true
		}
	}
	return "", false
}

// secretReference reports whether any step references a secret value or
// the default repository-scoped token, in its run script, environment, or
// action inputs.
func secretReference(job parser.Job) (parser.Step, bool) {
	for _, step := range job.Steps {
		if step.Run != "" && shell.ReferencesSecret(step.Run) {
			return step, true
		}
		for _, value := range step.Env {
			if shell.ReferencesSecret(value) {
				return step, true
			}
		}
		for _, value := range step.With {
			if s, ok := value.(string); ok && shell.ReferencesSecret(s) {
				return step, true
			}
		}
	}
	return parser.Step{}, false
}

// hasForkGuard reports whether a job- or step-level conditional restricts
// execution to non-fork-originated pull requests.
func hasForkGuard(job parser.Job) bool {
	if isForkGuard(job.If) {
		return true
	}
	for _, step := range job.Steps {
		if isForkGuard(step.If) {
			return true
		}
	}
	return false
}

func isForkGuard(condition string) bool {
	if condition == "" {
		return false
	}
	return strings.Contains(condition, "fork") ||
		strings.Contains(condition, "head.repo.full_name")
}

func hasTag(tags []Tag, want Tag) bool {
	for _, tag := range tags {
		if tag == want {
			return true
		}
	}
	return false
}

func stepLabel(step parser.Step) string {
	if step.Name != "" {
		return step.Name
	}
	if step.Uses != "" {
		return step.Uses
	}
	return fmt.Sprintf("run: %.40s", step.Run)
}
