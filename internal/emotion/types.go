// Package emotion maps journal emotion labels to voice-tone parameters and
// renormalizes scored emotion percentages.
//
// Everything in this package is pure and safe for concurrent use.
package emotion

import (
	"errors"
	"fmt"
	"strings"
)

// Percentage bounds applied at the package boundary.
const (
	MinPercentage = 0
	MaxPercentage = 100
)

// ErrUnknownType is returned when a label does not name one of the six emotion types.
var ErrUnknownType = errors.New("unknown emotion type")

// Type is one of the six emotion labels produced by the sentiment model.
// The declaration order is significant: it breaks ties between equally
// weighted selections.
type Type int

// The six emotion labels, in declared order.
const (
	Joy Type = iota
	Embarrassment
	Anger
	Anxiety
	Hurt
	Sadness
)

var typeNames = [...]string{
	Joy:           "JOY",
	Embarrassment: "EMBARRASSMENT",
	Anger:         "ANGER",
	Anxiety:       "ANXIETY",
	Hurt:          "HURT",
	Sadness:       "SADNESS",
}

// Types returns all labels in declared order.
func Types() []Type {
	return []Type{Joy, Embarrassment, Anger, Anxiety, Hurt, Sadness}
}

// String returns the upper-case wire name of the label.
func (t Type) String() string {
	if !t.Valid() {
		return fmt.Sprintf("Type(%d)", int(t))
	}

	return typeNames[t]
}

// Valid reports whether t is one of the declared labels.
func (t Type) Valid() bool {
	return t >= Joy && t <= Sadness
}

// ParseType resolves a wire name (case-insensitive, surrounding space ignored).
func ParseType(name string) (Type, error) {
	normalized := strings.ToUpper(strings.TrimSpace(name))

	for index, typeName := range typeNames {
		if typeName == normalized {
			return Type(index), nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownType, name)
}

// MarshalText encodes the label by name.
func (t Type) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, int(t))
	}

	return []byte(typeNames[t]), nil
}

// UnmarshalText decodes a label by name.
func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}

	*t = parsed

	return nil
}

// Selection is one weighted emotion attached to a journal record.
type Selection struct {
	Type       Type `json:"type"`
	Percentage int  `json:"percentage"`
}

// Score is one system-scored emotion, as returned by sentiment analysis or
// produced by Normalize.
type Score struct {
	Type       Type `json:"type"`
	Percentage int  `json:"percentage"`
}

// ClampPercentage bounds p into [MinPercentage, MaxPercentage]. It is the single
// place where out-of-range or missing (zero) percentages are resolved.
func ClampPercentage(p int) int {
	if p < MinPercentage {
		return MinPercentage
	}

	if p > MaxPercentage {
		return MaxPercentage
	}

	return p
}
