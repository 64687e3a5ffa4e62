// Package approvals implements merge-request approval tracking.
//
// GitLab Enterprise Edition has a first-class approvals API. Community
// Edition does not, so approvals are derived there from the CODEOWNERS
// file on the default branch combined with thumbs-up award emoji on the
// merge request: every owner responsible for a changed file counts as a
// required approver, and their thumbs-up counts as an approval.
package approvals

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	shellwords "github.com/mattn/go-shellwords"
)

// Rule is a single CODEOWNERS entry: a glob pattern and the users who
// own files matching it.
type Rule struct {
	// Pattern is the file glob, e.g. "*.py" or "docs/*".
	Pattern string

	// Owners are the usernames (without "@") owning matching files.
	Owners []string

	re *regexp.Regexp
}

// Matches reports whether the rule's pattern matches the given path.
// Matching follows fnmatch semantics: "*" and "?" match any character
// including "/", so "*.py" matches files in subdirectories too.
func (r *Rule) Matches(path string) bool {
	return r.re.MatchString(path)
}

// ParseCodeowners parses CODEOWNERS content into rules.
//
// Each significant line is "<pattern> <owner> [<owner>...]". Lines that
// are empty, start with "#", or start with whitespace (continuations of
// ignored sections) are skipped. Owner tokens are split shell-style, so
// quoted patterns with spaces work, and a leading "@" on owners is
// stripped.
func ParseCodeowners(content []byte) ([]Rule, error) {
	parser := shellwords.NewParser()

	var rules []Rule
	for i, line := range strings.Split(string(content), "\n") {
		if line == "" || strings.HasPrefix(line, " ") || strings.HasPrefix(line, "#") {
			continue
		}

		elements, err := parser.Parse(line)
		if err != nil {
			return nil, fmt.Errorf("CODEOWNERS line %d: %w", i+1, err)
		}
		if len(elements) == 0 {
			continue
		}

		pattern := elements[0]
		re, err := compileGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("CODEOWNERS line %d: invalid pattern %q: %w", i+1, pattern, err)
		}

		rule := Rule{Pattern: pattern, re: re}
		for _, owner := range elements[1:] {
			rule.Owners = append(rule.Owners, strings.TrimPrefix(owner, "@"))
		}
		rules = append(rules, rule)
	}

	return rules, nil
}

// ResponsibleOwners returns the sorted set of owners responsible for the
// given changed paths. Owners of the "*" pattern are always responsible,
// regardless of what changed.
func ResponsibleOwners(rules []Rule, changedPaths []string) []string {
	owners := map[string]bool{}

	for i := range rules {
		if rules[i].Pattern == "*" {
			for _, owner := range rules[i].Owners {
				owners[owner] = true
			}
		}
	}

	for _, path := range changedPaths {
		for i := range rules {
			if rules[i].Matches(path) {
				for _, owner := range rules[i].Owners {
					owners[owner] = true
				}
			}
		}
	}

	result := make([]string, 0, len(owners))
	for owner := range owners {
		result = append(result, owner)
	}
	sort.Strings(result)
	return result
}

// compileGlob translates an fnmatch-style pattern into a regexp.
// path.Match from the standard library is not a substitute: its
// wildcards stop at "/" while CODEOWNERS globs (and the fnmatch
// semantics this tool inherited) cross directory boundaries.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString(`^`)

	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '*':
			b.WriteString(`.*`)
		case '?':
			b.WriteString(`.`)
		case '[':
			// Scan for the closing bracket; "]" or "!" directly after
			// the opening bracket are literal members of the set.
			j := i + 1
			if j < len(pattern) && (pattern[j] == '!' || pattern[j] == ']') {
				j++
			}
			for j < len(pattern) && pattern[j] != ']' {
				j++
			}
			if j >= len(pattern) {
				// Unterminated set: treat the bracket literally.
				b.WriteString(`\[`)
				continue
			}
			set := pattern[i+1 : j]
			set = strings.ReplaceAll(set, `\`, `\\`)
			if strings.HasPrefix(set, "!") {
				set = "^" + set[1:]
			}
			b.WriteString("[" + set + "]")
			i = j
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}

	b.WriteString(`$`)
	return regexp.Compile(b.String())
}
