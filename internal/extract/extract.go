// Package extract populates scenario variables from JSON response bodies.
//
// Extraction rules are written as JSONPath ($, .field, ["field"], [index])
// and evaluated through JMESPath after a syntactic rewrite. Extraction is a
// convenience, not a correctness gate: a rule that yields nothing usable
// skips its variable with a warning and the step itself is never failed.
package extract

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmespath/go-jmespath"
	"go.uber.org/zap"
)

// Extract evaluates rules (variable name to JSONPath expression) against
// body and returns the extracted string values. Non-JSON bodies skip every
// rule with a single warning. Rules that yield zero results, multiple
// results, or a non-scalar are skipped individually.
func Extract(logger *zap.Logger, body []byte, rules map[string]string) map[string]string {
	if len(rules) == 0 {
		return nil
	}

	var document interface{}
	if err := json.Unmarshal(body, &document); err != nil {
		logger.Warn("response body is not valid JSON, skipping extraction",
			zap.Error(err))
		return nil
	}

	extracted := make(map[string]string)
	for name, path := range rules {
		expr, err := toJMESPath(path)
		if err != nil {
			logger.Warn("invalid extraction path",
				zap.String("variable", name),
				zap.String("path", path),
				zap.Error(err))
			continue
		}

		result, err := jmespath.Search(expr, document)
		if err != nil {
			logger.Warn("extraction failed",
				zap.String("variable", name),
				zap.String("path", path),
				zap.Error(err))
			continue
		}

		value, ok := stringifyScalar(result)
		if !ok {
			logger.Warn("extraction did not yield a single scalar, skipping",
				zap.String("variable", name),
				zap.String("path", path))
			continue
		}

		extracted[name] = value
	}

	return extracted
}

// stringifyScalar converts a single scalar result to its string form.
// Numbers use their shortest decimal representation, without an exponent.
func stringifyScalar(result interface{}) (string, bool) {
	switch v := result.(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		// nil (no result), maps, and slices are not usable values
		return "", false
	}
}

// toJMESPath rewrites the supported JSONPath dialect into a JMESPath
// expression: "$" becomes "@", ".field" chains become identifiers,
// ["field"] becomes a quoted identifier, [index] stays an index.
func toJMESPath(path string) (string, error) {
	s := strings.TrimSpace(path)
	if s == "" {
		return "", fmt.Errorf("empty path")
	}
	if s[0] == '$' {
		s = s[1:]
	}
	if s == "" {
		return "@", nil
	}

	var b strings.Builder
	for len(s) > 0 {
		switch {
		case s[0] == '.':
			name, rest, err := readIdentifier(s[1:])
			if err != nil {
				return "", err
			}
			writeMember(&b, name, false)
			s = rest
		case s[0] == '[':
			end := strings.IndexByte(s, ']')
			if end < 0 {
				return "", fmt.Errorf("unterminated bracket in %q", path)
			}
			inner := strings.TrimSpace(s[1:end])
			switch {
			case len(inner) >= 2 && (inner[0] == '"' || inner[0] == '\''):
				if inner[len(inner)-1] != inner[0] {
					return "", fmt.Errorf("unterminated string in %q", path)
				}
				writeMember(&b, inner[1:len(inner)-1], true)
			default:
				if _, err := strconv.Atoi(inner); err != nil {
					return "", fmt.Errorf("invalid index %q in %q", inner, path)
				}
				b.WriteString("[" + inner + "]")
			}
			s = s[end+1:]
		default:
			// bare leading identifier, e.g. "user.id"
			name, rest, err := readIdentifier(s)
			if err != nil {
				return "", err
			}
			writeMember(&b, name, false)
			s = rest
		}
	}

	return b.String(), nil
}

func writeMember(b *strings.Builder, name string, quote bool) {
	if b.Len() > 0 {
		b.WriteByte('.')
	}
	if quote {
		b.WriteByte('"')
		b.WriteString(name)
		b.WriteByte('"')
		return
	}
	b.WriteString(name)
}

func readIdentifier(s string) (string, string, error) {
	i := 0
	for i < len(s) && isIdentByte(s[i], i == 0) {
		i++
	}
	if i == 0 {
		return "", "", fmt.Errorf("expected identifier at %q", s)
	}
	return s[:i], s[i:], nil
}

func isIdentByte(c byte, first bool) bool {
	if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
		return true
	}
	return !first && c >= '0' && c <= '9'
}
