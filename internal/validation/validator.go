package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/devrev/pairdb/indexcore/internal/errors"
	"github.com/devrev/pairdb/indexcore/internal/model"
)

const (
	// Size limits
	MaxKeySize   = 1024             // 1 KB
	MaxValueSize = 10 * 1024 * 1024 // 10 MB
)

// Validator validates writes before they become revisions
type Validator struct {
	maxKeySize   int
	maxValueSize int
}

// NewValidator creates a new validator with default limits
func NewValidator() *Validator {
	return NewValidatorWithLimits(MaxKeySize, MaxValueSize)
}

// NewValidatorWithLimits creates a validator with custom limits
func NewValidatorWithLimits(maxKeySize, maxValueSize int) *Validator {
	return &Validator{
		maxKeySize:   maxKeySize,
		maxValueSize: maxValueSize,
	}
}

// ValidateWrite validates a write operation
func (v *Validator) ValidateWrite(w model.Write) error {
	if !w.IsStorable() {
		return errors.NotStorable(string(w.Key), "write is marked not storable")
	}
	if err := v.ValidateKey(string(w.Key)); err != nil {
		return err
	}
	return v.validateValue(string(w.Key), w.Value)
}

// Classify returns w unchanged when it is valid, otherwise the same write
// marked NOT_STORABLE together with the reason.
func (v *Validator) Classify(w model.Write) (model.Write, error) {
	if err := v.ValidateWrite(w); err != nil {
		return model.WriteNotStorable(string(w.Key), w.Value, w.Record), err
	}
	return w, nil
}

// ValidateKey validates a key
func (v *Validator) ValidateKey(key string) error {
	// Check if empty
	if key == "" {
		return errors.NotStorable(key, "key cannot be empty")
	}

	// Check size
	if len(key) > v.maxKeySize {
		return errors.NotStorable(truncate(key), fmt.Sprintf("key exceeds maximum size of %d bytes", v.maxKeySize)).
			WithDetail("size", len(key))
	}

	// Keys are single tokens
	for _, r := range key {
		if unicode.IsControl(r) {
			return errors.NotStorable(key, "key cannot contain control characters")
		}
		if unicode.IsSpace(r) {
			return errors.NotStorable(key, "key cannot contain whitespace")
		}
	}

	return nil
}

// ValidateValue validates a value
func (v *Validator) ValidateValue(value model.Value) error {
	return v.validateValue("", value)
}

func (v *Validator) validateValue(key string, value model.Value) error {
	if value.IsZero() {
		return errors.NotStorable(key, "value is empty")
	}

	// Check size
	if value.PayloadSize() > v.maxValueSize {
		return errors.NotStorable(key, fmt.Sprintf("value exceeds maximum size of %d bytes", v.maxValueSize)).
			WithDetail("size", value.PayloadSize())
	}

	if s, ok := value.Text(); ok && strings.TrimSpace(s) == "" {
		return errors.NotStorable(key, "string value is blank")
	}

	return nil
}

func truncate(key string) string {
	const limit = 32
	if len(key) <= limit {
		return key
	}
	return key[:limit] + "..."
}
