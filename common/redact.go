package common

import (
	"log/slog"
	"sort"
)

const redactedText = "[REDACTED]"

// Redacted wraps a secret value so it never reaches logs or formatted output.
type Redacted string

func (r Redacted) String() string {
	return redactedText
}

func (r Redacted) GoString() string {
	return redactedText
}

// LogValue implements slog.LogValuer.
func (r Redacted) LogValue() slog.Value {
	return slog.StringValue(redactedText)
}

// Reveal returns the wrapped value.
func (r Redacted) Reveal() string {
	return string(r)
}

// FieldNames returns the sorted field names of a document, for logging its
// shape without its values.
func FieldNames(doc map[string]any) []string {
	fields := make([]string, 0, len(doc))
	for k := range doc {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}
