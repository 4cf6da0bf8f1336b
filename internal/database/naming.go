package database

import (
	"fmt"
	"strings"

	"gorm.io/gorm/schema"
)

const (
	NamingSnake = "snake"
	NamingCamel = "camel"
)

// Naming resolves the configured field naming convention. The returned strategy must be
// used both to open the connection and to construct query builders over it.
func Naming(name string) (schema.Namer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NamingSnake:
		return schema.NamingStrategy{}, nil
	case NamingCamel:
		return camelNamer{}, nil
	default:
		return nil, fmt.Errorf("unsupported field naming %q", name)
	}
}

// camelNamer keeps table and index names in snake case and writes columns in lower camel case.
type camelNamer struct {
	schema.NamingStrategy
}

func (n camelNamer) ColumnName(table, column string) string {
	return lowerCamel(n.NamingStrategy.ColumnName(table, column))
}

func lowerCamel(snake string) string {
	var builder strings.Builder
	builder.Grow(len(snake))
	upperNext := false
	for _, character := range snake {
		if character == '_' {
			upperNext = builder.Len() > 0
			continue
		}
		if upperNext && character >= 'a' && character <= 'z' {
			character -= 'a' - 'A'
		}
		upperNext = false
		builder.WriteRune(character)
	}
	return builder.String()
}
