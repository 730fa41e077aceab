package github

import (
	"context"
	"fmt"
	"strings"

	gh "github.com/google/go-github/v53/github"
	"github.com/sultanovich/prtguard/pkg/parser"
)

const workflowsPath = ".github/workflows"

// FetchWorkflows returns the workflow definition files of a repository's
// default branch. A repository without a workflows directory yields an
// empty result, not an error. A file whose content cannot be parsed is
// returned with ParseErr set so the analyzer can record it; fetching
// continues with the remaining files.
func (c *Client) FetchWorkflows(ctx context.Context, ref RepositoryRef) ([]parser.WorkflowFile, error) {
	opts := &gh.RepositoryContentGetOptions{Ref: ref.DefaultBranch}

	var listing []*gh.RepositoryContent
	err := c.retrier.Do(ctx, func() error {
		var opErr error
		_, listing, _, opErr = c.repos.GetContents(ctx, ref.Owner, ref.Name, workflowsPath, opts)
		return classify(ref.String()+"/"+workflowsPath, opErr)
	})
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list workflow files for %s: %w", ref, err)
	}

	var workflows []parser.WorkflowFile
	for _, entry := range listing {
		if entry.GetType() != "file" {
			continue
		}
		name := entry.GetName()
		if !strings.HasSuffix(name, ".yml") && !strings.HasSuffix(name, ".yaml") {
			continue
		}

		var file *gh.RepositoryContent
		err := c.retrier.Do(ctx, func() error {
			var opErr error
			file, _, _, opErr = c.repos.GetContents(ctx, ref.Owner, ref.Name, entry.GetPath(), opts)
			return classify(ref.String()+"/"+entry.GetPath(), opErr)
		})
		if err != nil {
			return workflows, fmt.Errorf("failed to fetch %s from %s: %w", entry.GetPath(), ref, err)
		}

		content, err := file.GetContent()
		if err != nil {
			return workflows, fmt.Errorf("failed to decode %s from %s: %w", entry.GetPath(), ref, err)
		}

		workflows = append(workflows, parser.Load(ref.String(), entry.GetPath(), []byte(content)))
	}

	return workflows, nil
}
