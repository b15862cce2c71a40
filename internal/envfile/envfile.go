// Package envfile parses and serializes dotenv-style documents.
//
// A document is a sequence of NAME=value lines. Parsing tolerates blank
// lines, # comments, and an optional "export " prefix, and strips matching
// single or double quotes around values. Serialization is deterministic:
// variables keep their first-seen order so that re-encrypting an unchanged
// document yields an unchanged plaintext.
package envfile

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	kerrors "github.com/Aviksaikat/envault/internal/errors"
)

var keyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateKey enforces the identifier policy for variable names: a dotenv
// token with no '=' and no embedded newlines.
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", kerrors.ErrInvalidFieldName, key)
	}
	return nil
}

// Parse decodes dotenv data into a mapping plus the order in which names
// first appeared. Later assignments to the same name overwrite the earlier
// value without duplicating the name in the order slice.
func Parse(data []byte) (map[string]string, []string, error) {
	vars := make(map[string]string)
	var names []string

	for i, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		trimmed = strings.TrimPrefix(trimmed, "export ")

		key, value, found := strings.Cut(trimmed, "=")
		if !found {
			return nil, nil, fmt.Errorf("%w: line %d has no '='", kerrors.ErrInvalidDocument, i+1)
		}
		key = strings.TrimSpace(key)
		if err := ValidateKey(key); err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", i+1, err)
		}

		if _, seen := vars[key]; !seen {
			names = append(names, key)
		}
		vars[key] = unquote(strings.TrimSpace(value))
	}

	return vars, names, nil
}

// Marshal serializes a mapping back to dotenv form. Names present in order
// come first, in that order; any names missing from order are appended
// sorted so the output is still deterministic.
func Marshal(vars map[string]string, order []string) []byte {
	var b strings.Builder

	emitted := make(map[string]bool, len(vars))
	for _, name := range order {
		value, ok := vars[name]
		if !ok || emitted[name] {
			continue
		}
		writeLine(&b, name, value)
		emitted[name] = true
	}

	var rest []string
	for name := range vars {
		if !emitted[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		writeLine(&b, name, vars[name])
	}

	return []byte(b.String())
}

// Set upserts a variable, preserving first-seen order for existing names and
// appending new names at the end.
func Set(vars map[string]string, order []string, key, value string) (map[string]string, []string, error) {
	if err := ValidateKey(key); err != nil {
		return nil, nil, err
	}
	if _, exists := vars[key]; !exists {
		order = append(order, key)
	}
	vars[key] = value
	return vars, order, nil
}

func writeLine(b *strings.Builder, name, value string) {
	if needsQuoting(value) {
		b.WriteString(name)
		b.WriteString("=\"")
		b.WriteString(escape(value))
		b.WriteString("\"\n")
		return
	}
	b.WriteString(name)
	b.WriteString("=")
	b.WriteString(value)
	b.WriteString("\n")
}

func needsQuoting(value string) bool {
	return strings.ContainsAny(value, " \t\n\"#'")
}

func escape(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	value = strings.ReplaceAll(value, `"`, `\"`)
	value = strings.ReplaceAll(value, "\n", `\n`)
	return value
}

func unquote(value string) string {
	if len(value) >= 2 {
		if value[0] == '"' && value[len(value)-1] == '"' {
			inner := value[1 : len(value)-1]
			inner = strings.ReplaceAll(inner, `\n`, "\n")
			inner = strings.ReplaceAll(inner, `\"`, `"`)
			inner = strings.ReplaceAll(inner, `\\`, `\`)
			return inner
		}
		if value[0] == '\'' && value[len(value)-1] == '\'' {
			return value[1 : len(value)-1]
		}
	}
	return value
}
