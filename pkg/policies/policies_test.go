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

package policies_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sultanovich/prtguard/pkg/parser"
	"github.com/sultanovich/prtguard/pkg/policies"
	"github.com/sultanovich/prtguard/pkg/rules"
)

const selfHostedPolicy = `package prtguard

deny contains violation if {
	job := input.workflow.jobs[job_id]
	job["runs-on"] == "self-hosted"

	violation := {
		"description": "job runs on a self-hosted runner",
		"severity": "HIGH",
		"job": job_id,
		"evidence": sprintf("runs-on: %v", [job["runs-on"]]),
	}
}
`

const selfHostedWorkflow = `
name: Build
on: pull_request_target
jobs:
  build:
    runs-on: self-hosted
    steps:
      - run: make build
`

func writePolicy(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.rego")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestEvaluateWorkflow(t *testing.T) {
	policyPath := writePolicy(t, selfHostedPolicy)
	engine := policies.NewPolicyEngine([]string{policyPath})

	wf := parser.Load("acme/webapp", ".github/workflows/build.yml", []byte(selfHostedWorkflow))
	findings, err := engine.EvaluateWorkflow(context.Background(), wf)
	if err != nil {
		t.Fatalf("EvaluateWorkflow: %v", err)
	}

	if len(findings) != 1 {
		t.Fatalf("Expected 1 policy finding, got %d", len(findings))
	}
	f := findings[0]
	if f.Kind != rules.KindPolicyViolation {
		t.Errorf("Kind = %s, want %s", f.Kind, rules.KindPolicyViolation)
	}
	if f.Severity != rules.High {
		t.Errorf("Severity = %s, want HIGH", f.Severity)
	}
	if f.JobID != "build" {
		t.Errorf("JobID = %q, want build", f.JobID)
	}
	if f.Repository != "acme/webapp" {
		t.Errorf("Repository = %q", f.Repository)
	}
}

func TestEvaluateWorkflowNoViolations(t *testing.T) {
	policyPath := writePolicy(t, selfHostedPolicy)
	engine := policies.NewPolicyEngine([]string{policyPath})

	clean := `
name: CI
on: push
jobs:
  test:
    runs-on: ubuntu-latest
    steps:
      - run: make test
`
	wf := parser.Load("acme/webapp", ".github/workflows/ci.yml", []byte(clean))
	findings, err := engine.EvaluateWorkflow(context.Background(), wf)
	if err != nil {
		t.Fatalf("EvaluateWorkflow: %v", err)
	}
	if len(findings) != 0 {
		t.Errorf("Expected no findings, got %d", len(findings))
	}
}

func TestEvaluateWorkflowSkipsUnparseable(t *testing.T) {
	policyPath := writePolicy(t, selfHostedPolicy)
	engine := policies.NewPolicyEngine([]string{policyPath})

	wf := parser.Load("acme/webapp", ".github/workflows/bad.yml", []byte("on: [unclosed"))
	findings, err := engine.EvaluateWorkflow(context.Background(), wf)
	if err != nil {
		t.Fatalf("EvaluateWorkflow: %v", err)
	}
	if len(findings) != 0 {
		t.Errorf("Unparseable workflow should produce no policy findings, got %d", len(findings))
	}
}

func TestEvaluateWorkflowNoPolicies(t *testing.T) {
	engine := policies.NewPolicyEngine(nil)
	wf := parser.Load("acme/webapp", ".github/workflows/ci.yml", []byte(selfHostedWorkflow))
	findings, err := engine.EvaluateWorkflow(context.Background(), wf)
	if err != nil {
		t.Fatalf("EvaluateWorkflow: %v", err)
	}
	if findings != nil {
		t.Errorf("Expected nil findings without policies, got %v", findings)
	}
}

func TestLoadPolicyFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.rego", "b.rego", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("package prtguard\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	files, err := policies.LoadPolicyFiles(dir)
	if err != nil {
		t.Fatalf("LoadPolicyFiles(dir): %v", err)
	}
	if len(files) != 2 {
		t.Errorf("Expected 2 .rego files, got %d: %v", len(files), files)
	}

	single, err := policies.LoadPolicyFiles(filepath.Join(dir, "a.rego"))
	if err != nil {
		t.Fatalf("LoadPolicyFiles(file): %v", err)
	}
	if len(single) != 1 {
		t.Errorf("Expected 1 file, got %d", len(single))
	}

	if _, err := policies.LoadPolicyFiles(filepath.Join(dir, "notes.txt")); err == nil {
		t.Error("Non-rego file should be rejected")
	}
	if _, err := policies.LoadPolicyFiles(filepath.Join(dir, "missing.rego")); err == nil {
		t.Error("Missing path should be rejected")
	}
	if _, err := policies.LoadPolicyFiles(t.TempDir()); err == nil {
		t.Error("Directory without policies should be rejected")
	}
}

func TestCreateExamplePolicyEvaluates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies", "example.rego")
	if err := policies.CreateExamplePolicy(path); err != nil {
		t.Fatalf("CreateExamplePolicy: %v", err)
	}

	engine := policies.NewPolicyEngine([]string{path})
	wf := parser.Load("acme/webapp", ".github/workflows/build.yml", []byte(selfHostedWorkflow))
	findings, err := engine.EvaluateWorkflow(context.Background(), wf)
	if err != nil {
		t.Fatalf("Example policy does not evaluate: %v", err)
	}
	if len(findings) == 0 {
		t.Error("Example policy should flag a self-hosted pull_request_target job")
	}
}
