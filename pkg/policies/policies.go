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

package policies

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/sultanovich/prtguard/pkg/parser"
	"github.com/sultanovich/prtguard/pkg/rules"
)

// PolicyEngine evaluates user-supplied Rego policies against workflow
// documents, on top of the built-in rule set.
type PolicyEngine struct {
	policyFiles []string
}

// NewPolicyEngine creates a policy engine over the given .rego files.
func NewPolicyEngine(policyFiles []string) *PolicyEngine {
	return &PolicyEngine{policyFiles: policyFiles}
}

// EvaluateWorkflow evaluates one workflow document against all configured
// policies. Documents with a parse error are skipped; the built-in
// analyzer already reports those.
func (e *PolicyEngine) EvaluateWorkflow(ctx context.Context, workflow parser.WorkflowFile) ([]rules.Finding, error) {
	if len(e.policyFiles) == 0 || workflow.ParseErr != nil {
		return nil, nil
	}

	workflowData := prepareWorkflowData(workflow)

	var findings []rules.Finding
	for _, policyFile := range e.policyFiles {
		fileFindings, err := e.evaluatePolicyFile(ctx, policyFile, workflowData, workflow)
		if err != nil {
			return nil, fmt.Errorf("policy evaluation error for %s: %w", policyFile, err)
		}
		findings = append(findings, fileFindings...)
	}

	return findings, nil
}

func (e *PolicyEngine) evaluatePolicyFile(ctx context.Context, policyFile string, workflowData interface{}, workflow parser.WorkflowFile) ([]rules.Finding, error) {
	policyContent, err := os.ReadFile(policyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	r := rego.New(
		rego.Query("data.prtguard.deny[x]"),
		rego.Module(filepath.Base(policyFile), string(policyContent)),
		rego.Input(workflowData),
	)

	rs, err := r.Eval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation failed: %w", err)
	}

	var findings []rules.Finding
	for _, result := range rs {
		for _, expr := range result.Expressions {
			switch value := expr.Value.(type) {
			case map[string]interface{}:
				findings = append(findings, convertViolationToFinding(value, workflow))
			case []interface{}:
				for _, v := range value {
					if violation, ok := v.(map[string]interface{}); ok {
						findings = append(findings, convertViolationToFinding(violation, workflow))
					}
				}
			}
		}
	}

	return findings, nil
}

// prepareWorkflowData builds the OPA input document for one workflow.
func prepareWorkflowData(workflow parser.WorkflowFile) map[string]interface{} {
	doc := map[string]interface{}{
		"name": workflow.Workflow.Name,
		"on":   workflow.Workflow.On,
		"jobs": convertJobsToMap(workflow.Workflow.Jobs),
	}
	if workflow.Workflow.Env != nil {
		doc["env"] = workflow.Workflow.Env
	}
	if workflow.Workflow.Permissions != nil {
		doc["permissions"] = workflow.Workflow.Permissions
	}

	return map[string]interface{}{
		"repository": workflow.Repository,
		"path":       workflow.Path,
		"name":       workflow.Name,
		"workflow":   doc,
	}
}

func convertJobsToMap(jobs map[string]parser.Job) map[string]interface{} {
	result := make(map[string]interface{})

	for id, job := range jobs {
		jobMap := map[string]interface{}{
			"runs-on": job.RunsOn,
			"steps":   convertStepsToList(job.Steps),
		}
		if job.Name != "" {
			jobMap["name"] = job.Name
		}
		if job.Permissions != nil {
			jobMap["permissions"] = job.Permissions
		}
		if job.If != "" {
			jobMap["if"] = job.If
		}
		if job.Needs != nil {
			jobMap["needs"] = job.Needs
		}
		if job.Env != nil {
			jobMap["env"] = job.Env
		}

		result[id] = jobMap
	}

	return result
}

func convertStepsToList(steps []parser.Step) []map[string]interface{} {
	result := make([]map[string]interface{}, len(steps))

	for i, step := range steps {
		stepMap := make(map[string]interface{})
		if step.Name != "" {
			stepMap["name"] = step.Name
		}
		if step.ID != "" {
			stepMap["id"] = step.ID
		}
		if step.Uses != "" {
			stepMap["uses"] = step.Uses
		}
		if step.Run != "" {
			stepMap["run"] = step.Run
		}
		if step.Shell != "" {
			stepMap["shell"] = step.Shell
		}
		if step.If != "" {
			stepMap["if"] = step.If
		}
		if step.With != nil {
			stepMap["with"] = step.With
		}
		if step.Env != nil {
			stepMap["env"] = step.Env
		}
		if step.WorkingDirectory != "" {
			stepMap["working-directory"] = step.WorkingDirectory
		}
		result[i] = stepMap
	}

	return result
}

// convertViolationToFinding maps an OPA violation object onto a finding.
func convertViolationToFinding(violation map[string]interface{}, workflow parser.WorkflowFile) rules.Finding {
	description, _ := violation["description"].(string)
	if description == "" {
		description = "workflow violates a custom policy rule"
	}

	severityStr, _ := violation["severity"].(string)
	severity := rules.Medium
	switch severityStr {
	case "CRITICAL":
		severity = rules.Critical
	case "HIGH":
		severity = rules.High
	case "MEDIUM":
		severity = rules.Medium
	case "LOW":
		severity = rules.Low
	case "INFO":
		severity = rules.Info
	}

	jobID, _ := violation["job"].(string)
	evidence, _ := violation["evidence"].(string)
	remediation, _ := violation["remediation"].(string)

	return rules.Finding{
		Kind:         rules.KindPolicyViolation,
		Repository:   workflow.Repository,
		WorkflowPath: workflow.Path,
		WorkflowName: workflow.Name,
		JobID:        jobID,
		Severity:     severity,
		Description:  description,
		Evidence:     evidence,
		Remediation:  remediation,
	}
}

// LoadPolicyFiles resolves a policy path to the .rego files underneath it.
func LoadPolicyFiles(policyPath string) ([]string, error) {
	fileInfo, err := os.Stat(policyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to access policy path: %w", err)
	}

	var policyFiles []string
	if fileInfo.IsDir() {
		err = filepath.Walk(policyPath, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !info.IsDir() && filepath.Ext(path) == ".rego" {
				policyFiles = append(policyFiles, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk policy directory: %w", err)
		}
	} else {
		if filepath.Ext(policyPath) != ".rego" {
			return nil, fmt.Errorf("policy file must have .rego extension")
		}
		policyFiles = append(policyFiles, policyPath)
	}

	if len(policyFiles) == 0 {
		return nil, fmt.Errorf("no policy files found at %s", policyPath)
	}

	return policyFiles, nil
}

// CreateExamplePolicy writes a starter policy file to the given path.
func CreateExamplePolicy(filePath string) error {
	examplePolicy := `package prtguard

# The "on" value may be a string, a list, or a mapping.
is_pr_target if input.workflow.on == "pull_request_target"
is_pr_target if input.workflow.on[_] == "pull_request_target"
is_pr_target if input.workflow.on.pull_request_target

# Flag pull_request_target workflows whose jobs run on self-hosted runners.
deny contains violation if {
	is_pr_target
	job := input.workflow.jobs[job_id]
	job["runs-on"] == "self-hosted"

	violation := {
		"description": "pull_request_target job runs on a self-hosted runner",
		"severity": "HIGH",
		"job": job_id,
		"evidence": sprintf("runs-on: %v", [job["runs-on"]]),
		"remediation": "Run fork-triggered workflows on ephemeral GitHub-hosted runners",
	}
}

# Flag actions that are not pinned to a full commit SHA.
deny contains violation if {
	job := input.workflow.jobs[job_id]
	step := job.steps[_]
	step.uses
	not regex.match("@[0-9a-f]{40}$", step.uses)

	violation := {
		"description": "GitHub Action is not pinned to a full SHA commit",
		"severity": "MEDIUM",
		"job": job_id,
		"evidence": sprintf("uses: %s", [step.uses]),
		"remediation": "Pin the action to a full SHA commit hash",
	}
}
`

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(filePath, []byte(examplePolicy), 0644); err != nil {
		return fmt.Errorf("failed to write example policy file: %w", err)
	}

	return nil
}
