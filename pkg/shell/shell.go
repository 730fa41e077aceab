package shell

import (
	"regexp"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// secretExpr matches GitHub expression syntax referencing repository secrets
// or the default installation token. These are expanded by the runner before
// the script executes, so they are not visible to the shell parser.
var secretExpr = regexp.MustCompile(`\$\{\{\s*(secrets\.[A-Za-z0-9_]+|github\.token)\s*\}\}`)

// anyExpr matches any GitHub expression so it can be stripped before the
// remainder is handed to the shell parser.
var anyExpr = regexp.MustCompile(`\$\{\{[^}]*\}\}`)

// tokenVars are environment variable names that conventionally carry the
// repository-scoped token.
var tokenVars = map[string]bool{
	"GITHUB_TOKEN": true,
	"GH_TOKEN":     true,
}

// ReferencesSecret reports whether a step's run script references a
// repository secret or the default repository-scoped token, either through
// GitHub expression syntax or through a shell variable expansion.
func ReferencesSecret(script string) bool {
	if secretExpr.MatchString(script) {
		return true
	}
	return referencesTokenVar(script)
}

// referencesTokenVar walks the shell syntax tree looking for expansions of
// token-bearing variables. Scripts that do not parse as POSIX shell (e.g.
// powershell steps) fall back to a substring check.
func referencesTokenVar(script string) bool {
	stripped := anyExpr.ReplaceAllString(script, "")

	file, err := Parse(stripped)
	if err != nil {
		for name := range tokenVars {
			if strings.Contains(script, name) {
				return true
			}
		}
		return false
	}

	found := false
	syntax.Walk(file, func(node syntax.Node) bool {
		if found {
			return false
		}
		if param, ok := node.(*syntax.ParamExp); ok && tokenVars[param.Param.Value] {
			found = true
			return false
		}
		return true
	})
	return found
}

// Parse parses a shell script and returns a syntax tree
func Parse(script string) (*syntax.File, error) {
	parser := syntax.NewParser()
	file, err := parser.Parse(strings.NewReader(script), "")
	if err != nil {
		return nil, err
	}
	return file, nil
}
