package hsqldb

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// column is one declared column of a CREATE TABLE statement.
type column struct {
	Name   string
	Type   string
	Binary bool
}

// value is one literal of an INSERT statement.
type value struct {
	Null bool
	Text string
	Blob []byte
}

var constraintKeywords = map[string]bool{
	"CONSTRAINT": true,
	"PRIMARY":    true,
	"UNIQUE":     true,
	"FOREIGN":    true,
	"CHECK":      true,
}

// parseCreate parses "CREATE [CACHED|MEMORY|TEXT] TABLE name(defs)".
func parseCreate(line string) (string, []column, error) {
	upper := strings.ToUpper(line)
	idx := strings.Index(upper, " TABLE ")
	if idx < 0 {
		return "", nil, fmt.Errorf("no TABLE keyword")
	}
	rest := strings.TrimSpace(line[idx+len(" TABLE "):])
	open := strings.IndexByte(rest, '(')
	if open < 0 || !strings.HasSuffix(rest, ")") {
		return "", nil, fmt.Errorf("missing column list")
	}
	name := tableName(rest[:open])

	var cols []column
	for _, def := range splitTopLevel(rest[open+1 : len(rest)-1]) {
		parts := strings.Fields(def)
		if len(parts) < 2 || constraintKeywords[strings.ToUpper(parts[0])] {
			continue
		}
		typ := strings.ToUpper(parts[1])
		cols = append(cols, column{
			Name:   unquoteIdent(parts[0]),
			Type:   typ,
			Binary: strings.Contains(typ, "BINARY") || strings.Contains(typ, "BLOB"),
		})
	}
	if len(cols) == 0 {
		return "", nil, fmt.Errorf("table %s declares no columns", name)
	}
	return name, cols, nil
}

// parseInsert parses "INSERT INTO name VALUES(...)".
func parseInsert(line string) (string, []value, error) {
	rest := strings.TrimSpace(line[len("INSERT INTO "):])
	upper := strings.ToUpper(rest)
	idx := strings.Index(upper, " VALUES")
	if idx < 0 {
		return "", nil, fmt.Errorf("no VALUES clause")
	}
	name := tableName(rest[:idx])
	body := strings.TrimSpace(rest[idx+len(" VALUES"):])
	if !strings.HasPrefix(body, "(") || !strings.HasSuffix(body, ")") {
		return "", nil, fmt.Errorf("malformed VALUES list")
	}
	vals, err := parseValues(body[1 : len(body)-1])
	if err != nil {
		return "", nil, err
	}
	return name, vals, nil
}

func parseValues(s string) ([]value, error) {
	var out []value
	i := 0
	for {
		for i < len(s) && s[i] == ' ' {
			i++
		}
		if i >= len(s) {
			return nil, fmt.Errorf("missing value after comma")
		}

		var v value
		switch {
		case s[i] == '\'':
			text, next, err := readString(s, i+1)
			if err != nil {
				return nil, err
			}
			v.Text = decodeEscapes(text)
			i = next
		case (s[i] == 'X' || s[i] == 'x') && i+1 < len(s) && s[i+1] == '\'':
			text, next, err := readString(s, i+2)
			if err != nil {
				return nil, err
			}
			blob, err := hex.DecodeString(text)
			if err != nil {
				return nil, fmt.Errorf("bad binary literal: %w", err)
			}
			v.Blob = blob
			i = next
		default:
			end := strings.IndexByte(s[i:], ',')
			if end < 0 {
				end = len(s) - i
			}
			tok := strings.TrimSpace(s[i : i+end])
			switch strings.ToUpper(tok) {
			case "NULL":
				v.Null = true
			case "TRUE":
				v.Text = "true"
			case "FALSE":
				v.Text = "false"
			default:
				if tok == "" {
					return nil, fmt.Errorf("empty value")
				}
				v.Text = tok
			}
			i += end
		}
		out = append(out, v)

		for i < len(s) && s[i] == ' ' {
			i++
		}
		if i >= len(s) {
			return out, nil
		}
		if s[i] != ',' {
			return nil, fmt.Errorf("unexpected %q at offset %d", s[i], i)
		}
		i++
	}
}

// readString reads a quoted literal body starting after the opening quote
// and returns the unescaped text and the offset after the closing quote.
func readString(s string, i int) (string, int, error) {
	var sb strings.Builder
	for i < len(s) {
		c := s[i]
		if c == '\'' {
			if i+1 < len(s) && s[i+1] == '\'' {
				sb.WriteByte('\'')
				i += 2
				continue
			}
			return sb.String(), i + 1, nil
		}
		sb.WriteByte(c)
		i++
	}
	return "", i, fmt.Errorf("unterminated string literal")
}

// decodeEscapes expands the \uXXXX sequences the script writer uses for
// non-ASCII characters and control characters.
func decodeEscapes(s string) string {
	if !strings.Contains(s, `\u`) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+6 <= len(s) && s[i+1] == 'u' {
			if r, err := strconv.ParseUint(s[i+2:i+6], 16, 32); err == nil {
				sb.WriteRune(rune(r))
				i += 5
				continue
			}
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(parts, strings.TrimSpace(s[start:]))
}

// tableName strips a schema prefix and identifier quotes.
func tableName(s string) string {
	s = strings.TrimSpace(s)
	if dot := strings.LastIndexByte(s, '.'); dot >= 0 {
		s = s[dot+1:]
	}
	return unquoteIdent(s)
}

func unquoteIdent(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return strings.ToUpper(s)
}
