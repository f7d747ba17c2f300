package config

import (
	"fmt"
	"strings"
)

// FieldError describes one invalid or missing setting.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// Error is returned when the configuration cannot be used. It is fatal at
// startup.
type Error struct {
	Fields []FieldError
}

func (e *Error) add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

func (e *Error) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Error())
	}
	return "config: " + strings.Join(msgs, "; ")
}

// Has reports whether the given setting is among the failures.
func (e *Error) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}
