package schema

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// Type is a canonical column type
type Type string

// Canonical column types
const (
	TypeString    Type = "string"
	TypeBoolean   Type = "boolean"
	TypeInteger   Type = "integer"
	TypeFloat     Type = "float"
	TypeDate      Type = "date"
	TypeTimestamp Type = "timestamp"
)

var remoteTypes = map[string]Type{
	"id":              TypeString,
	"reference":       TypeString,
	"string":          TypeString,
	"textarea":        TypeString,
	"picklist":        TypeString,
	"multipicklist":   TypeString,
	"combobox":        TypeString,
	"email":           TypeString,
	"phone":           TypeString,
	"url":             TypeString,
	"encryptedstring": TypeString,
	"time":            TypeString,
	"anytype":         TypeString,
	"boolean":         TypeBoolean,
	"int":             TypeInteger,
	"long":            TypeInteger,
	"double":          TypeFloat,
	"currency":        TypeFloat,
	"percent":         TypeFloat,
	"date":            TypeDate,
	"datetime":        TypeTimestamp,
}

// Canonical maps a remote field type to a canonical type. Unknown types
// map to string and report false.
func Canonical(remote string) (Type, bool) {
	t, ok := remoteTypes[strings.ToLower(remote)]
	if !ok {
		return TypeString, false
	}

	return t, true
}

// ColumnTypes assigns a canonical type to every column. fieldTypes maps
// remote field names to remote types; columns are matched against the
// normalized field names case-insensitively. Columns without a field, such
// as relationship columns, are strings.
func ColumnTypes(log logrus.FieldLogger, columns []string, fieldTypes map[string]string) map[string]Type {
	byName := make(map[string]string, len(fieldTypes))
	for name, remote := range fieldTypes {
		byName[strings.ToLower(Normalize(name))] = remote
	}

	out := make(map[string]Type, len(columns))

	for _, col := range columns {
		remote, ok := byName[strings.ToLower(col)]
		if !ok {
			out[col] = TypeString
			continue
		}

		t, known := Canonical(remote)
		if !known {
			log.WithFields(logrus.Fields{
				"column": col,
				"type":   remote,
			}).Warn("Unknown field type, defaulting to string")
		}

		out[col] = t
	}

	return out
}
