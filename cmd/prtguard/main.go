package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/sultanovich/prtguard/pkg/config"
	"github.com/sultanovich/prtguard/pkg/github"
	"github.com/sultanovich/prtguard/pkg/parser"
	"github.com/sultanovich/prtguard/pkg/policies"
	"github.com/sultanovich/prtguard/pkg/report"
	"github.com/sultanovich/prtguard/pkg/rules"
	"github.com/sultanovich/prtguard/pkg/scan"
	"github.com/urfave/cli/v2"
)

var version = "0.1.0"

func main() {
	app := &cli.App{
		Name:    "prtguard",
		Version: version,
		Usage:   "Audit GitHub Actions workflows for risky pull_request_target usage",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "org",
				Usage: "GitHub organization to scan (all visible repositories)",
			},
			&cli.StringFlag{
				Name:    "repo",
				Aliases: []string{"r"},
				Usage:   "Single repository to scan (owner/name)",
			},
			&cli.StringFlag{
				Name:  "path",
				Usage: "Local repository checkout to scan",
			},
			&cli.StringFlag{
				Name:    "workflow",
				Aliases: []string{"w"},
				Usage:   "Path to a single workflow file to scan",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output format (cli, json)",
			},
			&cli.StringFlag{
				Name:  "output-dir",
				Usage: "Directory for the run log and other artifacts",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Configuration file path (.prtguard.yml)",
			},
			&cli.StringFlag{
				Name:    "policy",
				Aliases: []string{"p"},
				Usage:   "Custom Rego policy file or directory",
			},
			&cli.BoolFlag{
				Name:  "poc",
				Usage: "Write a proof-of-concept marker file per affected repository",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Verbose run log",
			},
			&cli.IntFlag{
				Name:  "concurrency",
				Usage: "Number of repositories scanned in parallel",
			},
			&cli.StringFlag{
				Name:  "timeout",
				Usage: "Overall run timeout (Go duration, e.g. 10m)",
			},
			&cli.StringFlag{
				Name:  "min-severity",
				Usage: "Minimum severity level to report (CRITICAL, HIGH, MEDIUM, LOW, INFO)",
			},
			&cli.StringSliceFlag{
				Name:    "enable-rules",
				Aliases: []string{"enable"},
				Usage:   "Report only these rule tags",
			},
			&cli.StringSliceFlag{
				Name:    "disable-rules",
				Aliases: []string{"disable"},
				Usage:   "Suppress these rule tags",
			},
		},
		Action: run,
		Commands: []*cli.Command{
			{
				Name:  "init-policy",
				Usage: "Create an example policy file",
				Action: func(c *cli.Context) error {
					outputPath := c.Args().First()
					if outputPath == "" {
						outputPath = "policies/example.rego"
					}

					if err := policies.CreateExamplePolicy(outputPath); err != nil {
						return fmt.Errorf("failed to create example policy: %w", err)
					}
					fmt.Printf("Example policy created at %s\n", outputPath)
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	ctx := context.Background()
	start := time.Now()

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	env, err := config.LoadEnvironment()
	if err != nil {
		return err
	}
	cfg.ApplyEnvironment(env)
	applyFlags(cfg, c)

	target, err := resolveTarget(c)
	if err != nil {
		return err
	}

	debug := c.Bool("debug") || env.Debug
	runLog, err := report.OpenRunLog(cfg.Output.Directory, target.name, start, debug)
	if err != nil {
		return err
	}
	defer runLog.Close()
	runLog.Infof("prtguard %s starting, target %s", version, target.name)

	var policyEngine scan.PolicyEvaluator
	if policyPath := c.String("policy"); policyPath != "" {
		policyFiles, err := policies.LoadPolicyFiles(policyPath)
		if err != nil {
			return fmt.Errorf("failed to load policy files: %w", err)
		}
		runLog.Infof("loaded %d policy files", len(policyFiles))
		policyEngine = policies.NewPolicyEngine(policyFiles)
	}

	fetcher, refs, err := target.resolve(ctx, cfg, env.Token, runLog)
	if err != nil {
		runLog.Errorf("target resolution failed: %v", err)
		return err
	}

	runner := scan.NewRunner(fetcher, scan.Options{
		Config:   cfg,
		Log:      runLog,
		Policies: policyEngine,
		WritePoC: c.Bool("poc"),
	})
	result, err := runner.Run(ctx, target.name, refs)
	if err != nil {
		runLog.Errorf("scan failed: %v", err)
		return err
	}

	minSeverity := rules.Severity(strings.ToUpper(cfg.Output.MinSeverity))
	result.Findings = report.FilterBySeverity(result.Findings, minSeverity)
	result.Summary = report.CalculateSummary(result.Findings)

	if err := report.NewGenerator(result, cfg.Output.Format).Generate(); err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}

	if cfg.Output.Format == "cli" {
		fmt.Printf("\nRun log: %s\n", runLog.Path())
	}
	return nil
}

// applyFlags folds CLI flags into the configuration. Flags win over both
// the config file and the environment.
func applyFlags(cfg *config.Config, c *cli.Context) {
	if v := c.String("output"); v != "" {
		cfg.Output.Format = strings.ToLower(v)
	}
	if v := c.String("output-dir"); v != "" {
		cfg.Output.Directory = v
	}
	if v := c.String("min-severity"); v != "" {
		cfg.Output.MinSeverity = v
	}
	if v := c.Int("concurrency"); v > 0 {
		cfg.Scan.Concurrency = v
	}
	if v := c.String("timeout"); v != "" {
		cfg.Scan.Timeout = v
	}
	if v := c.StringSlice("enable-rules"); len(v) > 0 {
		cfg.Rules.Enabled = append(cfg.Rules.Enabled, v...)
	}
	if v := c.StringSlice("disable-rules"); len(v) > 0 {
		cfg.Rules.Disabled = append(cfg.Rules.Disabled, v...)
	}
}

// target describes what one invocation scans.
type target struct {
	name string
	mode string // "org", "repo", "path", or "workflow"
	arg  string
}

// resolveTarget validates that exactly one scan mode was requested.
func resolveTarget(c *cli.Context) (*target, error) {
	modes := map[string]string{
		"org":      c.String("org"),
		"repo":     c.String("repo"),
		"path":     c.String("path"),
		"workflow": c.String("workflow"),
	}

	var selected *target
	for mode, arg := range modes {
		if arg == "" {
			continue
		}
		if selected != nil {
			return nil, fmt.Errorf("--org, --repo, --path, and --workflow are mutually exclusive")
		}
		selected = &target{name: arg, mode: mode, arg: arg}
	}
	if selected == nil {
		return nil, fmt.Errorf("one of --org, --repo, --path, or --workflow must be specified")
	}

	if selected.mode == "repo" {
		if parts := strings.Split(selected.arg, "/"); len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("--repo must be owner/name, got %q", selected.arg)
		}
	}
	return selected, nil
}

// resolve builds the workflow source and the repository list for the
// selected mode. Local modes use a filesystem fetcher; remote modes
// enumerate via the GitHub API.
func (t *target) resolve(ctx context.Context, cfg *config.Config, token string, runLog *report.RunLog) (scan.Fetcher, []github.RepositoryRef, error) {
	switch t.mode {
	case "org":
		client := github.NewClient(ctx, token, cfg.Scan.RetryAttempts)
		refs, err := client.ListOrgRepositories(ctx, t.arg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to enumerate organization %s: %w", t.arg, err)
		}
		runLog.Infof("organization %s: %d repositories", t.arg, len(refs))
		return client, refs, nil

	case "repo":
		parts := strings.SplitN(t.arg, "/", 2)
		client := github.NewClient(ctx, token, cfg.Scan.RetryAttempts)
		ref, err := client.GetRepository(ctx, parts[0], parts[1])
		if err != nil {
			return nil, nil, fmt.Errorf("failed to resolve repository %s: %w", t.arg, err)
		}
		return client, []github.RepositoryRef{ref}, nil

	case "path":
		return localFetcher{root: t.arg}, []github.RepositoryRef{localRef(t.arg)}, nil

	case "workflow":
		return workflowFetcher{path: t.arg}, []github.RepositoryRef{localRef(t.arg)}, nil
	}
	return nil, nil, fmt.Errorf("unknown scan mode %q", t.mode)
}

// localRef names a filesystem target in the RepositoryRef shape the
// coordinator expects.
func localRef(path string) github.RepositoryRef {
	return github.RepositoryRef{Owner: "local", Name: strings.ReplaceAll(path, "/", "_")}
}

// localFetcher reads workflows from a repository checkout on disk.
type localFetcher struct {
	root string
}

func (f localFetcher) FetchWorkflows(ctx context.Context, ref github.RepositoryRef) ([]parser.WorkflowFile, error) {
	return parser.FindWorkflows(f.root)
}

// workflowFetcher serves exactly one workflow file from disk.
type workflowFetcher struct {
	path string
}

func (f workflowFetcher) FetchWorkflows(ctx context.Context, ref github.RepositoryRef) ([]parser.WorkflowFile, error) {
	wf, err := parser.LoadSingleWorkflow(f.path)
	if err != nil {
		return nil, err
	}
	return []parser.WorkflowFile{wf}, nil
}
