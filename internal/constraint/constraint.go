// Package constraint validates version constraints written in the manager's
// manifest syntax (`^1.2`, `~1.2.3`, `>=1.0,<2.0`, `1.*`, `>=1 || ^3`) and
// orders PEP 440 versions.
package constraint

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	orSep       = regexp.MustCompile(`\s*\|\|?\s*`)
	anyRE       = regexp.MustCompile(`^(?:\*|[xX])$`)
	wildcardRE  = regexp.MustCompile(`^(?:==|!=)?\s*v?\d+(?:\.\d+){0,2}\.[xX*]$`)
	caretRE     = regexp.MustCompile(`^\^\s*` + versionPattern + `$`)
	tildeRE     = regexp.MustCompile(`^~\s*` + versionPattern + `$`)
	tildePEPRE  = regexp.MustCompile(`^~=\s*v?(?:\d+!)?\d+\.\d+`)
	compareRE   = regexp.MustCompile(`^(?:<=|>=|<|>|==|!=|=)?\s*` + versionPattern + `$`)
	arbitraryRE = regexp.MustCompile(`^===\s*\S+$`)
	operatorRE  = regexp.MustCompile(`^(?:<=|>=|<|>|==|!=|=|~=|~|\^)$`)
)

// InvalidError reports a constraint that does not parse.
type InvalidError struct {
	Constraint string
	Reason     string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("CST_INVALID: could not parse version constraint %q: %s", e.Constraint, e.Reason)
}

// Validate checks the syntax of a version constraint.
func Validate(text string) error {
	s := strings.TrimSpace(text)
	if s == "" || anyRE.MatchString(s) {
		return nil
	}
	for _, alt := range orSep.Split(s, -1) {
		if strings.TrimSpace(alt) == "" {
			return &InvalidError{Constraint: text, Reason: "empty alternative"}
		}
		terms, err := splitAnd(alt)
		if err != nil {
			return &InvalidError{Constraint: text, Reason: err.Error()}
		}
		for _, term := range terms {
			if !validTerm(term) {
				return &InvalidError{Constraint: text, Reason: fmt.Sprintf("invalid term %q", term)}
			}
		}
	}
	return nil
}

// splitAnd splits an AND group on commas or whitespace, rejoining an
// operator written apart from its version (`>= 1.0`).
func splitAnd(group string) ([]string, error) {
	fields := strings.FieldsFunc(group, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	if strings.HasPrefix(strings.TrimSpace(group), ",") || strings.HasSuffix(strings.TrimSpace(group), ",") {
		return nil, fmt.Errorf("dangling comma")
	}
	var terms []string
	pending := ""
	for _, f := range fields {
		if operatorRE.MatchString(f) {
			if pending != "" {
				return nil, fmt.Errorf("operator %q without version", pending)
			}
			pending = f
			continue
		}
		terms = append(terms, pending+f)
		pending = ""
	}
	if pending != "" {
		return nil, fmt.Errorf("operator %q without version", pending)
	}
	if len(terms) == 0 {
		return nil, fmt.Errorf("empty constraint")
	}
	return terms, nil
}

func validTerm(term string) bool {
	t := strings.ToLower(term)
	switch {
	case anyRE.MatchString(t), wildcardRE.MatchString(t), arbitraryRE.MatchString(t):
		return true
	case strings.HasPrefix(t, "^"):
		return caretRE.MatchString(t)
	case strings.HasPrefix(t, "~="):
		return tildePEPRE.MatchString(t) && compareRE.MatchString(strings.TrimPrefix(t, "~="))
	case strings.HasPrefix(t, "~"):
		return tildeRE.MatchString(t)
	}
	return compareRE.MatchString(t)
}
