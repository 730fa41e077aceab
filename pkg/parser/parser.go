package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// WorkflowFile represents one GitHub Actions workflow definition file,
// either fetched from the GitHub API or read from a local checkout.
// ParseErr is set when the raw content is not a valid workflow document;
// the file is still carried through so the analyzer can record it.
type WorkflowFile struct {
	Repository string
	Path       string
	Name       string
	Content    []byte
	Workflow   Workflow
	ParseErr   error
}

// Workflow represents the parsed structure of a GitHub Actions workflow file
type Workflow struct {
	Name        string                 `yaml:"name"`
	On          interface{}            `yaml:"on"`
	Env         map[string]string      `yaml:"env,omitempty"`
	Jobs        map[string]Job         `yaml:"jobs"`
	Permissions interface{}            `yaml:"permissions,omitempty"`
	Defaults    map[string]interface{} `yaml:"defaults,omitempty"`
}

// Job represents a job in a GitHub Actions workflow
type Job struct {
	Name        string                 `yaml:"name,omitempty"`
	RunsOn      interface{}            `yaml:"runs-on"`
	Permissions interface{}            `yaml:"permissions,omitempty"`
	Needs       interface{}            `yaml:"needs,omitempty"`
	If          string                 `yaml:"if,omitempty"`
	Steps       []Step                 `yaml:"steps"`
	Env         map[string]string      `yaml:"env,omitempty"`
	Defaults    map[string]interface{} `yaml:"defaults,omitempty"`
	Outputs     map[string]string      `yaml:"outputs,omitempty"`
}

// Step represents a step in a GitHub Actions job
type Step struct {
	Name             string                 `yaml:"name,omitempty"`
	ID               string                 `yaml:"id,omitempty"`
	If               string                 `yaml:"if,omitempty"`
	Uses             string                 `yaml:"uses,omitempty"`
	Run              string                 `yaml:"run,omitempty"`
	Shell            string                 `yaml:"shell,omitempty"`
	With             map[string]interface{} `yaml:"with,omitempty"`
	Env              map[string]string      `yaml:"env,omitempty"`
	WorkingDirectory string                 `yaml:"working-directory,omitempty"`
}

// HasTrigger reports whether the workflow declares the given trigger event.
// The `on` value may be a single string, a sequence, or a mapping.
func (w Workflow) HasTrigger(event string) bool {
	switch on := w.On.(type) {
	case string:
		return on == event
	case []interface{}:
		for _, e := range on {
			if s, ok := e.(string); ok && s == event {
				return true
			}
		}
	case map[string]interface{}:
		_, ok := on[event]
		return ok
	}
	return false
}

// HasExplicitPermissions reports whether the document declares a
// workflow-level permissions block.
func (w Workflow) HasExplicitPermissions() bool {
	return w.Permissions != nil
}

// HasExplicitPermissions reports whether the job overrides permissions.
func (j Job) HasExplicitPermissions() bool {
	return j.Permissions != nil
}

// Load parses raw workflow content into a WorkflowFile. A YAML or shape
// error is recorded in ParseErr rather than returned; callers that need
// hard failures should check the field.
func Load(repository, path string, content []byte) WorkflowFile {
	wf := WorkflowFile{
		Repository: repository,
		Path:       path,
		Name:       filepath.Base(path),
		Content:    content,
	}

	var workflow Workflow
	if err := yaml.Unmarshal(content, &workflow); err != nil {
		wf.ParseErr = fmt.Errorf("failed to parse workflow file %s: %w", path, err)
		return wf
	}
	wf.Workflow = workflow
	return wf
}

// FindWorkflows searches a local repository checkout for GitHub Actions
// workflow files. A repository without a .github/workflows directory is not
// an error; it simply has no workflows.
func FindWorkflows(repoPath string) ([]WorkflowFile, error) {
	workflowsDir := filepath.Join(repoPath, ".github", "workflows")

	if _, err := os.Stat(workflowsDir); os.IsNotExist(err) {
		return nil, nil
	}

	var workflows []WorkflowFile
	err := filepath.Walk(workflowsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if !strings.HasSuffix(info.Name(), ".yml") && !strings.HasSuffix(info.Name(), ".yaml") {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read workflow file %s: %w", path, err)
		}

		workflows = append(workflows, Load(repoPath, path, content))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error searching for workflow files: %w", err)
	}

	return workflows, nil
}

// LoadSingleWorkflow loads and parses a single workflow file from disk.
func LoadSingleWorkflow(filePath string) (WorkflowFile, error) {
	if !strings.HasSuffix(filePath, ".yml") && !strings.HasSuffix(filePath, ".yaml") {
		return WorkflowFile{}, fmt.Errorf("file %s does not have a YAML extension (.yml or .yaml)", filePath)
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		return WorkflowFile{}, fmt.Errorf("failed to read workflow file %s: %w", filePath, err)
	}

	return Load("", filePath, content), nil
}
