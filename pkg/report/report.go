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

package report

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/sultanovich/prtguard/pkg/rules"
)

// RepoError records a per-repository failure that did not abort the run.
type RepoError struct {
	Repository string `json:"repository"`
	Stage      string `json:"stage"`
	Message    string `json:"message"`
}

// ScanResult represents the overall result of one audit run.
type ScanResult struct {
	Target            string          `json:"target"`
	ScanTime          time.Time       `json:"scanTime"`
	Duration          time.Duration   `json:"duration"`
	RepositoriesCount int             `json:"repositoriesCount"`
	WorkflowsCount    int             `json:"workflowsCount"`
	Findings          []rules.Finding `json:"findings"`
	Errors            []RepoError     `json:"errors,omitempty"`
	Summary           Summary         `json:"summary"`
}

// Summary counts findings by severity.
type Summary struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
	Total    int `json:"total"`
}

// CalculateSummary tallies findings by severity.
func CalculateSummary(findings []rules.Finding) Summary {
	var s Summary
	for _, f := range findings {
		switch f.Severity {
		case rules.Critical:
			s.Critical++
		case rules.High:
			s.High++
		case rules.Medium:
			s.Medium++
		case rules.Low:
			s.Low++
		case rules.Info:
			s.Info++
		}
	}
	s.Total = len(findings)
	return s
}

// SortFindingsBySeverity orders findings highest severity first, then by
// repository and workflow path for a stable report.
func SortFindingsBySeverity(findings []rules.Finding) []rules.Finding {
	sorted := make([]rules.Finding, len(findings))
	copy(sorted, findings)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := rules.SeverityRank(sorted[i].Severity), rules.SeverityRank(sorted[j].Severity)
		if ri != rj {
			return ri > rj
		}
		if sorted[i].Repository != sorted[j].Repository {
			return sorted[i].Repository < sorted[j].Repository
		}
		return sorted[i].WorkflowPath < sorted[j].WorkflowPath
	})
	return sorted
}

// FilterBySeverity drops findings below the minimum severity.
func FilterBySeverity(findings []rules.Finding, min rules.Severity) []rules.Finding {
	minRank := rules.SeverityRank(min)
	var kept []rules.Finding
	for _, f := range findings {
		if rules.SeverityRank(f.Severity) >= minRank {
			kept = append(kept, f)
		}
	}
	return kept
}

// Generator creates a formatted report from scan results
type Generator struct {
	Result ScanResult
	Format string
}

// NewGenerator creates a new report generator
func NewGenerator(result ScanResult, format string) *Generator {
	return &Generator{Result: result, Format: format}
}

// Generate creates and outputs the report in the specified format
func (g *Generator) Generate() error {
	switch strings.ToLower(g.Format) {
	case "cli":
		return g.generateCLIReport()
	case "json":
		return g.generateJSONReport()
	default:
		return fmt.Errorf("unsupported report format: %s", g.Format)
	}
}

func (g *Generator) generateCLIReport() error {
	titleStyle := color.New(color.FgHiCyan, color.Bold)
	subtitleStyle := color.New(color.FgCyan, color.Bold)
	infoStyle := color.New(color.FgBlue)
	successStyle := color.New(color.FgGreen, color.Bold)
	criticalStyle := color.New(color.FgHiRed, color.Bold)
	highStyle := color.New(color.FgHiYellow, color.Bold)
	mediumStyle := color.New(color.FgYellow)

	fmt.Println()
	titleStyle.Println("PRTGUARD SCAN RESULTS")
	fmt.Println("=======================================")

	fmt.Println()
	subtitleStyle.Println("SCAN INFORMATION")
	infoStyle.Printf("%-22s ", "Target:")
	fmt.Println(g.Result.Target)
	infoStyle.Printf("%-22s ", "Scan Time:")
	fmt.Println(g.Result.ScanTime.Format(time.RFC1123))
	infoStyle.Printf("%-22s ", "Duration:")
	fmt.Println(g.Result.Duration.Round(time.Millisecond))
	infoStyle.Printf("%-22s ", "Repositories:")
	fmt.Println(g.Result.RepositoriesCount)
	infoStyle.Printf("%-22s ", "Workflows Analyzed:")
	fmt.Println(g.Result.WorkflowsCount)

	fmt.Println()
	subtitleStyle.Println("SUMMARY")
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Severity", "Count"})
	table.SetBorder(false)
	table.Append([]string{"CRITICAL", fmt.Sprintf("%d", g.Result.Summary.Critical)})
	table.Append([]string{"HIGH", fmt.Sprintf("%d", g.Result.Summary.High)})
	table.Append([]string{"MEDIUM", fmt.Sprintf("%d", g.Result.Summary.Medium)})
	table.Append([]string{"LOW", fmt.Sprintf("%d", g.Result.Summary.Low)})
	table.Append([]string{"INFO", fmt.Sprintf("%d", g.Result.Summary.Info)})
	table.Render()

	if len(g.Result.Findings) == 0 {
		fmt.Println()
		successStyle.Println("No risky pull_request_target usage detected.")
	} else {
		fmt.Println()
		subtitleStyle.Println("FINDINGS")
		for _, f := range g.Result.Findings {
			var style *color.Color
			switch f.Severity {
			case rules.Critical:
				style = criticalStyle
			case rules.High:
				style = highStyle
			case rules.Medium:
				style = mediumStyle
			default:
				style = infoStyle
			}

			style.Printf("[%s] ", f.Severity)
			location := f.Repository + " " + f.WorkflowPath
			if f.JobID != "" {
				location += ":" + f.JobID
			}
			fmt.Printf("%s\n", location)
			fmt.Printf("    %s\n", f.Description)
			if f.Evidence != "" {
				fmt.Printf("    evidence: %s\n", Sanitize(f.Evidence))
			}
		}
	}

	if len(g.Result.Errors) > 0 {
		fmt.Println()
		subtitleStyle.Println("REPOSITORY ERRORS")
		for _, e := range g.Result.Errors {
			mediumStyle.Printf("[%s] ", e.Stage)
			fmt.Printf("%s: %s\n", e.Repository, Sanitize(e.Message))
		}
	}

	return nil
}

func (g *Generator) generateJSONReport() error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(g.Result)
}
