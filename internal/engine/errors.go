package engine

import (
	"fmt"
	"strings"

	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/domain"
)

// ValidationError rejects a malformed request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NotReadyError rejects a submission while validation is incomplete.
type NotReadyError struct {
	Blocking []domain.ValidationDomain
}

func (e NotReadyError) Error() string {
	names := make([]string, len(e.Blocking))
	for i, d := range e.Blocking {
		names[i] = string(d)
	}
	if len(names) == 0 {
		return "validation incomplete"
	}
	return "validation incomplete: " + strings.Join(names, ", ")
}
