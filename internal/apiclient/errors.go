package apiclient

import (
	"fmt"
	"sort"
	"strings"
)

const genericMessage = "Something went wrong. Please try again."

// APIError is a failure reported by the backend, either as a plain message
// or as messages keyed by field.
type APIError struct {
	Status  int
	Message string
	Fields  map[string][]string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.Status, e.UserMessage())
}

// UserMessage is the text shown to the user. Field errors take precedence
// and are joined one per line, fields in name order.
func (e *APIError) UserMessage() string {
	if msg := FlattenFieldErrors(e.Fields); msg != "" {
		return msg
	}
	if e.Message != "" {
		return e.Message
	}
	return genericMessage
}

func FlattenFieldErrors(fields map[string][]string) string {
	if len(fields) == 0 {
		return ""
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var msgs []string
	for _, name := range names {
		msgs = append(msgs, fields[name]...)
	}
	return strings.Join(msgs, "\n")
}
