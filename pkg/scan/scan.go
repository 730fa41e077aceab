/*
Copyright 2025 The prtguard Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package scan coordinates a full audit run: it fans repositories out to a
// bounded worker pool, fetches and analyzes their workflows, and collects
// findings and per-repository errors in stable enumeration order.
package scan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sultanovich/prtguard/pkg/config"
	"github.com/sultanovich/prtguard/pkg/github"
	"github.com/sultanovich/prtguard/pkg/parser"
	"github.com/sultanovich/prtguard/pkg/report"
	"github.com/sultanovich/prtguard/pkg/rules"
)

// pocFileName is the marker file written per affected repository when
// proof-of-concept mode is on.
const pocFileName = "POC_PR_TARGET_MISCONFIG.txt"

// Fetcher retrieves the workflow files of one repository.
type Fetcher interface {
	FetchWorkflows(ctx context.Context, ref github.RepositoryRef) ([]parser.WorkflowFile, error)
}

// PolicyEvaluator runs user-supplied policies against one workflow.
type PolicyEvaluator interface {
	EvaluateWorkflow(ctx context.Context, wf parser.WorkflowFile) ([]rules.Finding, error)
}

// Options configures a Runner beyond its Fetcher.
type Options struct {
	Config   *config.Config
	Log      *report.RunLog  // optional run log artifact
	Policies PolicyEvaluator // optional custom policy engine
	WritePoC bool            // write a marker file per affected repository
}

// Runner executes audit runs. It is safe for a single Run at a time.
type Runner struct {
	fetcher  Fetcher
	cfg      *config.Config
	log      *report.RunLog
	policies PolicyEvaluator
	writePoC bool
}

// NewRunner creates a Runner over the given workflow source.
func NewRunner(fetcher Fetcher, opts Options) *Runner {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Runner{
		fetcher:  fetcher,
		cfg:      cfg,
		log:      opts.Log,
		policies: opts.Policies,
		writePoC: opts.WritePoC,
	}
}

// repoResult holds the outcome of scanning one repository. Slots are
// written by exactly one worker each, so no locking is needed.
type repoResult struct {
	workflows int
	findings  []rules.Finding
	errors    []report.RepoError
}

// Run scans the given repositories and assembles the run result. A failure
// in one repository is recorded as a RepoError and never blocks the
// others; Run itself fails only on context cancellation or an expired run
// timeout.
func (r *Runner) Run(ctx context.Context, target string, refs []github.RepositoryRef) (report.ScanResult, error) {
	start := time.Now()

	if timeout, err := r.cfg.RunTimeout(); err != nil {
		return report.ScanResult{}, err
	} else if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	concurrency := r.cfg.Scan.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	r.infof("scanning %d repositories with %d workers", len(refs), concurrency)

	results := make([]repoResult, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = r.scanRepository(gctx, ref)
			return nil
		})
	}
	runErr := g.Wait()

	result := report.ScanResult{
		Target:            target,
		ScanTime:          start,
		RepositoriesCount: len(refs),
	}
	for _, res := range results {
		result.WorkflowsCount += res.workflows
		result.Findings = append(result.Findings, res.findings...)
		result.Errors = append(result.Errors, res.errors...)
	}
	result.Findings = report.SortFindingsBySeverity(result.Findings)
	result.Summary = report.CalculateSummary(result.Findings)
	result.Duration = time.Since(start)

	if runErr != nil {
		return result, fmt.Errorf("scan aborted: %w", runErr)
	}
	r.infof("scan finished: %d findings across %d workflows", result.Summary.Total, result.WorkflowsCount)
	return result, nil
}

// scanRepository fetches and analyzes one repository. All failures are
// captured as RepoError entries.
func (r *Runner) scanRepository(ctx context.Context, ref github.RepositoryRef) repoResult {
	var res repoResult
	r.debugf("scanning repository %s", ref)

	workflows, err := r.fetcher.FetchWorkflows(ctx, ref)
	if err != nil {
		res.errors = append(res.errors, r.repoError(ref.String(), "fetch", err))
		return res
	}
	if len(workflows) == 0 {
		r.debugf("repository %s has no workflows", ref)
		return res
	}

	for _, wf := range workflows {
		if r.cfg.ShouldIgnorePath(wf.Path) {
			r.debugf("ignoring %s in %s", wf.Path, ref)
			continue
		}
		res.workflows++

		findings := r.filterFindings(rules.Analyze(wf))

		if r.policies != nil {
			policyFindings, err := r.policies.EvaluateWorkflow(ctx, wf)
			if err != nil {
				res.errors = append(res.errors, r.repoError(ref.String(), "policy", err))
			} else {
				findings = append(findings, policyFindings...)
			}
		}

		for _, f := range findings {
			r.logFinding(f)
		}
		res.findings = append(res.findings, findings...)
	}

	if r.writePoC && hasMisconfiguration(res.findings) {
		if err := r.writePoCMarker(ref, res.findings); err != nil {
			res.errors = append(res.errors, r.repoError(ref.String(), "poc", err))
		}
	}

	return res
}

// filterFindings applies the configured rule enable/disable lists. A job
// finding loses its disabled tags and is dropped when none remain; its
// severity is recomputed from the surviving tags. Non-rule findings pass
// through unchanged.
func (r *Runner) filterFindings(findings []rules.Finding) []rules.Finding {
	var kept []rules.Finding
	for _, f := range findings {
		if f.Kind != rules.KindMisconfiguration {
			kept = append(kept, f)
			continue
		}

		var tags []rules.Tag
		for _, tag := range f.Tags {
			if r.cfg.IsRuleEnabled(string(tag)) {
				tags = append(tags, tag)
			}
		}
		if len(tags) == 0 {
			continue
		}
		if len(tags) != len(f.Tags) {
			f.Tags = tags
			f.Severity = rules.CompositeSeverity(tags)
		}
		kept = append(kept, f)
	}
	return kept
}

// writePoCMarker drops a benign marker file for one affected repository
// under the output directory. It never touches the repository itself.
func (r *Runner) writePoCMarker(ref github.RepositoryRef, findings []rules.Finding) error {
	dir := filepath.Join(r.cfg.Output.Directory, "poc", ref.Owner+"_"+ref.Name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create poc directory: %w", err)
	}

	content := fmt.Sprintf("Proof of concept marker for %s\nGenerated: %s\n\nAffected workflows:\n",
		ref, time.Now().Format(time.RFC3339))
	seen := make(map[string]bool)
	for _, f := range findings {
		if f.Kind != rules.KindMisconfiguration || seen[f.WorkflowPath] {
			continue
		}
		seen[f.WorkflowPath] = true
		content += fmt.Sprintf("  - %s (%s)\n", f.WorkflowPath, f.Severity)
	}

	path := filepath.Join(dir, pocFileName)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write poc marker: %w", err)
	}
	r.infof("wrote poc marker for %s at %s", ref, path)
	return nil
}

func (r *Runner) repoError(repository, stage string, err error) report.RepoError {
	e := report.RepoError{Repository: repository, Stage: stage, Message: err.Error()}
	if r.log != nil {
		r.log.RepoError(e)
	}
	return e
}

func (r *Runner) logFinding(f rules.Finding) {
	if r.log != nil {
		r.log.Finding(f)
	}
}

func (r *Runner) infof(format string, args ...interface{}) {
	if r.log != nil {
		r.log.Infof(format, args...)
	}
}

func (r *Runner) debugf(format string, args ...interface{}) {
	if r.log != nil {
		r.log.Debugf(format, args...)
	}
}

func hasMisconfiguration(findings []rules.Finding) bool {
	for _, f := range findings {
		if f.Kind == rules.KindMisconfiguration {
			return true
		}
	}
	return false
}
