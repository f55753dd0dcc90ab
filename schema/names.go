package schema

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	TBPRE = "tb"
	CLPRE = "cl"
)

var (
	space = regexp.MustCompile(`\s+`)
	reg   = regexp.MustCompile(`[^a-zA-Z0-9 _]+`)
)

/*
CompliantName turns a raw field or table name into an identifier: lower
case, snake case, disallowed characters stripped. Identifiers are always
quoted when rendered, so keywords need no special handling.
If the standardized name is empty the result is {prefix}{idx}; a name that
starts with a digit is prefixed with {prefix}{idx}.
*/
func CompliantName(raw, prefix string, idx int) string {
	item := strings.TrimSpace(raw)
	item = reg.ReplaceAllString(item, "")
	item = strings.TrimSpace(item)
	item = space.ReplaceAllString(item, "_")
	item = strings.ToLower(item)

	if len(item) == 0 {
		return fmt.Sprintf("%s%d", prefix, idx)
	}
	if item[0] >= '0' && item[0] <= '9' {
		item = fmt.Sprintf("%s%d%s", prefix, idx, item)
	}
	return item
}

// ColumnName sanitizes a source field name.
func ColumnName(raw string, idx int) string {
	return CompliantName(raw, CLPRE, idx)
}

// FieldKey is the key config field lists match on, so "Product Info" and
// PRODUCT_INFO name the same field.
func FieldKey(raw string) string {
	return CompliantName(raw, CLPRE, 0)
}

// TableName sanitizes a table name.
func TableName(raw string) string {
	return CompliantName(raw, TBPRE, 0)
}
