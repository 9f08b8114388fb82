// Package shellwords splits a free-form argument string into argv the way a
// POSIX shell would, without ever running one. Control operators are refused
// so that a stored argument string can never turn into a pipeline.
package shellwords

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"
)

var (
	ErrUnsupportedShellOperator = errors.New("unsupported shell operator")
	ErrUnterminatedQuote        = errors.New("unterminated quote")
)

// UnsupportedShellOperatorError names the operator found outside of quotes.
type UnsupportedShellOperatorError struct {
	Op string
}

func (e *UnsupportedShellOperatorError) Error() string {
	return fmt.Sprintf("unsupported shell operator %q in arguments", e.Op)
}

func (e *UnsupportedShellOperatorError) Is(target error) bool {
	return target == ErrUnsupportedShellOperator
}

// operators is ordered longest first so that "||" wins over "|".
var operators = []string{
	"<<<",
	"||", "&&", ";;", "|&", "<(", ">(", ">>", "<<", ">&", "&>",
	"|", "&", ";", "<", ">", "(", ")",
}

// Parse tokenizes s. Blank input yields an empty slice.
//
// Single quotes are literal, double quotes honour the POSIX backslash escapes
// (\" \\ \$ \` and line continuation), a backslash outside quotes escapes the
// next character and an unquoted '#' at the start of a word comments out the
// rest of the line. Variables and globs are not expanded. Every delimiter is
// ASCII, so other bytes are copied through unchanged even when s is not valid
// UTF-8.
func Parse(s string) ([]string, error) {
	args := make([]string, 0)
	var buf strings.Builder
	inWord := false

	flush := func() {
		if inWord {
			args = append(args, buf.String())
			buf.Reset()
			inWord = false
		}
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			flush()
		case c == '\\':
			inWord = true
			if i+1 >= len(s) {
				buf.WriteByte(c)
				continue
			}
			i++
			if s[i] != '\n' {
				buf.WriteByte(s[i])
			}
		case c == '\'':
			inWord = true
			end := strings.IndexByte(s[i+1:], '\'')
			if end < 0 {
				return nil, fmt.Errorf("%w: single quote at offset %d", ErrUnterminatedQuote, i)
			}
			buf.WriteString(s[i+1 : i+1+end])
			i += 1 + end
		case c == '"':
			inWord = true
			end, err := readDoubleQuoted(s, i+1, &buf)
			if err != nil {
				return nil, fmt.Errorf("%w: double quote at offset %d", err, i)
			}
			i = end
		case c == '#' && !inWord:
			for i < len(s) && s[i] != '\n' {
				i++
			}
		default:
			if op := operatorAt(s, i); op != "" {
				return nil, &UnsupportedShellOperatorError{Op: op}
			}
			inWord = true
			buf.WriteByte(c)
		}
	}
	flush()
	return args, nil
}

// readDoubleQuoted consumes up to the closing quote and returns its index.
func readDoubleQuoted(s string, start int, buf *strings.Builder) (int, error) {
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '"':
			return i, nil
		case '\\':
			if i+1 < len(s) && strings.IndexByte("\"\\$`\n", s[i+1]) >= 0 {
				i++
				if s[i] != '\n' {
					buf.WriteByte(s[i])
				}
				continue
			}
			buf.WriteByte('\\')
		default:
			buf.WriteByte(s[i])
		}
	}
	return -1, ErrUnterminatedQuote
}

func operatorAt(s string, i int) string {
	for _, op := range operators {
		if strings.HasPrefix(s[i:], op) {
			return op
		}
	}
	return ""
}

// Join renders argv as a single shell-safe line, for logs and display only.
func Join(args ...string) string {
	return shellquote.Join(args...)
}
