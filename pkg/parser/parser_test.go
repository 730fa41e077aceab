package parser_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sultanovich/prtguard/pkg/parser"
)

func TestLoadParsesTriggerForms(t *testing.T) {
	tests := []struct {
		name    string
		content string
		event   string
		want    bool
	}{
		{
			name:    "scalar trigger",
			content: "name: ci\non: pull_request_target\njobs: {}\n",
			event:   "pull_request_target",
			want:    true,
		},
		{
			name:    "sequence trigger",
			content: "on: [push, pull_request_target]\njobs: {}\n",
			event:   "pull_request_target",
			want:    true,
		},
		{
			name:    "mapping trigger",
			content: "on:\n  pull_request_target:\n    types: [opened]\njobs: {}\n",
			event:   "pull_request_target",
			want:    true,
		},
		{
			name:    "other trigger only",
			content: "on:\n  pull_request:\n    types: [opened]\njobs: {}\n",
			event:   "pull_request_target",
			want:    false,
		},
		{
			name:    "no trigger declared",
			content: "name: ci\njobs: {}\n",
			event:   "pull_request_target",
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := parser.Load("owner/repo", ".github/workflows/ci.yml", []byte(tt.content))
			if wf.ParseErr != nil {
				t.Fatalf("Unexpected parse error: %v", wf.ParseErr)
			}
			if got := wf.Workflow.HasTrigger(tt.event); got != tt.want {
				t.Errorf("HasTrigger(%q) = %v, want %v", tt.event, got, tt.want)
			}
		})
	}
}

func TestLoadRecordsParseError(t *testing.T) {
	wf := parser.Load("owner/repo", ".github/workflows/bad.yml", []byte("on: [unclosed\njobs: {"))
	if wf.ParseErr == nil {
		t.Fatal("Expected parse error for malformed YAML")
	}
	if wf.Name != "bad.yml" {
		t.Errorf("Expected file name to survive parse failure, got %q", wf.Name)
	}
}

func TestLoadJobsAndSteps(t *testing.T) {
	content := `
name: build
on:
  pull_request_target:
permissions:
  contents: read
jobs:
  test:
    runs-on: ubuntu-latest
    if: github.event.pull_request.head.repo.fork == false
    steps:
      - name: Checkout
        uses: actions/checkout@v4
        with:
          ref: ${{ github.event.pull_request.head.ref }}
      - name: Build
        run: make build
`
	wf := parser.Load("owner/repo", ".github/workflows/build.yml", []byte(content))
	if wf.ParseErr != nil {
		t.Fatalf("Unexpected parse error: %v", wf.ParseErr)
	}

	if !wf.Workflow.HasExplicitPermissions() {
		t.Error("Expected workflow-level permissions to be detected")
	}

	job, ok := wf.Workflow.Jobs["test"]
	if !ok {
		t.Fatal("Expected job 'test' to be parsed")
	}
	if job.If == "" {
		t.Error("Expected job-level if condition to be parsed")
	}
	if len(job.Steps) != 2 {
		t.Fatalf("Expected 2 steps, got %d", len(job.Steps))
	}
	if job.Steps[0].Uses != "actions/checkout@v4" {
		t.Errorf("Unexpected uses: %q", job.Steps[0].Uses)
	}
	ref, ok := job.Steps[0].With["ref"].(string)
	if !ok || ref != "${{ github.event.pull_request.head.ref }}" {
		t.Errorf("Unexpected checkout ref: %v", job.Steps[0].With["ref"])
	}
	if job.Steps[1].Run != "make build" {
		t.Errorf("Unexpected run command: %q", job.Steps[1].Run)
	}
}

func TestFindWorkflowsMissingDirectory(t *testing.T) {
	dir := t.TempDir()

	workflows, err := parser.FindWorkflows(dir)
	if err != nil {
		t.Fatalf("Unexpected error for repo without workflows: %v", err)
	}
	if len(workflows) != 0 {
		t.Errorf("Expected no workflows, got %d", len(workflows))
	}
}

func TestFindWorkflowsReadsYAMLFiles(t *testing.T) {
	dir := t.TempDir()
	workflowsDir := filepath.Join(dir, ".github", "workflows")
	if err := os.MkdirAll(workflowsDir, 0755); err != nil {
		t.Fatal(err)
	}

	files := map[string]string{
		"ci.yml":     "on: push\njobs: {}\n",
		"release.yaml": "on: release\njobs: {}\n",
		"README.md":  "not a workflow",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(workflowsDir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	workflows, err := parser.FindWorkflows(dir)
	if err != nil {
		t.Fatalf("Failed to find workflows: %v", err)
	}
	if len(workflows) != 2 {
		t.Fatalf("Expected 2 workflow files, got %d", len(workflows))
	}
}
