// Package field implements the closed set of field kinds a Form can declare,
// with the coercion and validation rules for each.
package field

import (
	"fmt"
	"strings"
)

// Kind names one of the supported field types.
type Kind string

const (
	KindText      Kind = "text"
	KindRichText  Kind = "rich_text"
	KindNumeric   Kind = "numeric"
	KindBoolean   Kind = "boolean"
	KindDateTime  Kind = "date_time"
	KindSelect    Kind = "select"
	KindReference Kind = "reference"
)

var kindAliases = map[string]Kind{
	"text":      KindText,
	"string":    KindText,
	"rich_text": KindRichText,
	"text_area": KindRichText,
	"textarea":  KindRichText,
	"numeric":   KindNumeric,
	"number":    KindNumeric,
	"boolean":   KindBoolean,
	"bool":      KindBoolean,
	"date_time": KindDateTime,
	"datetime":  KindDateTime,
	"select":    KindSelect,
	"reference": KindReference,
	"ref":       KindReference,
}

// Kinds lists every supported kind in declaration order.
func Kinds() []Kind {
	return []Kind{KindText, KindRichText, KindNumeric, KindBoolean, KindDateTime, KindSelect, KindReference}
}

// ParseKind resolves a configured kind name, accepting a few common aliases.
func ParseKind(name string) (Kind, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if kind, ok := kindAliases[key]; ok {
		return kind, nil
	}
	return "", fmt.Errorf("unknown field kind %q", name)
}

// Valid reports whether k is one of the supported kinds.
func (k Kind) Valid() bool {
	_, ok := types[k]
	return ok
}

func (k Kind) String() string { return string(k) }
