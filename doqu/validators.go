package doqu

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// Validator checks one field value of a document. Returning an error
// wrapping ErrValidation fails the document; returning StopValidation
// aborts the remaining chain without failing (used to skip checks on
// empty optional fields).
type Validator interface {
	Validate(doc *Document, value any) error
}

// QueryFilter is implemented by validators that can also narrow a
// query, so the schema's base query only matches records that would
// validate. Not every validator can express itself as a condition.
type QueryFilter interface {
	FilterQuery(q *Query, field string) *Query
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(doc *Document, value any) error

func (f ValidatorFunc) Validate(doc *Document, value any) error { return f(doc, value) }

func isEmpty(value any) bool {
	if value == nil {
		return true
	}
	if s, ok := value.(string); ok {
		return s == ""
	}
	return false
}

// NotEmpty fails on missing or empty values. The Required field option
// installs it.
func NotEmpty() Validator { return requiredValidator{} }

type requiredValidator struct{}

func (requiredValidator) Validate(_ *Document, value any) error {
	if isEmpty(value) {
		return validationErr("value is required")
	}
	return nil
}

func (requiredValidator) FilterQuery(q *Query, field string) *Query {
	return q.Where(Conds{field + "__exists": true}).WhereNot(Conds{field: ""})
}

// Exists requires the field to be present in the record; the value may
// be empty. It never fails validation of a structured document but
// narrows the schema's base query.
func Exists() Validator { return existsValidator{} }

type existsValidator struct{}

func (existsValidator) Validate(_ *Document, _ any) error { return nil }

func (existsValidator) FilterQuery(q *Query, field string) *Query {
	return q.Where(Conds{field + "__exists": true})
}

// Optional stops the validator chain when the value is empty, so the
// remaining validators only run on present values.
func Optional() Validator {
	return ValidatorFunc(func(_ *Document, value any) error {
		if isEmpty(value) {
			return StopValidation
		}
		return nil
	})
}

// Equals requires the value to equal the given one.
func Equals(other any) Validator { return equalsValidator{other} }

type equalsValidator struct{ other any }

func (v equalsValidator) Validate(_ *Document, value any) error {
	if !reflect.DeepEqual(v.other, value) {
		return validationErr("expected %v, got %v", v.other, value)
	}
	return nil
}

func (v equalsValidator) FilterQuery(q *Query, field string) *Query {
	return q.Where(Conds{field: v.other})
}

// EqualTo requires the value to equal the value of another field of
// the same document.
func EqualTo(field string) Validator {
	return ValidatorFunc(func(doc *Document, value any) error {
		other, err := doc.Get(field)
		if err != nil {
			return err
		}
		if !reflect.DeepEqual(other, value) {
			return validationErr("value differs from field %q", field)
		}
		return nil
	})
}

// AnyOf requires the value to be one of the given choices.
func AnyOf(choices ...any) Validator { return anyOfValidator{choices} }

type anyOfValidator struct{ choices []any }

func (v anyOfValidator) Validate(_ *Document, value any) error {
	for _, c := range v.choices {
		if reflect.DeepEqual(c, value) {
			return nil
		}
	}
	return validationErr("%v is not one of the allowed values", value)
}

func (v anyOfValidator) FilterQuery(q *Query, field string) *Query {
	return q.Where(Conds{field + "__in": v.choices})
}

// NoneOf requires the value to be none of the given ones.
func NoneOf(rejected ...any) Validator {
	return ValidatorFunc(func(_ *Document, value any) error {
		for _, r := range rejected {
			if reflect.DeepEqual(r, value) {
				return validationErr("%v is a forbidden value", value)
			}
		}
		return nil
	})
}

// Length bounds the length of a string. Pass a negative bound to leave
// that side unchecked.
func Length(min, max int) Validator {
	return ValidatorFunc(func(_ *Document, value any) error {
		s, ok := value.(string)
		if !ok {
			return validationErr("length check applies to strings, got %T", value)
		}
		if min >= 0 && len(s) < min {
			return validationErr("string is shorter than %d", min)
		}
		if max >= 0 && len(s) > max {
			return validationErr("string is longer than %d", max)
		}
		return nil
	})
}

// NumberRange bounds a numeric value inclusively.
func NumberRange(min, max float64) Validator {
	return ValidatorFunc(func(_ *Document, value any) error {
		n, ok := asFloat(value)
		if !ok {
			return validationErr("range check applies to numbers, got %T", value)
		}
		if n < min || max < n {
			return validationErr("%v is outside [%v, %v]", value, min, max)
		}
		return nil
	})
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

// Regexp requires the string value to match the pattern.
func Regexp(pattern string) Validator {
	re := regexp.MustCompile(pattern)
	return ValidatorFunc(func(_ *Document, value any) error {
		s, ok := value.(string)
		if !ok || !re.MatchString(s) {
			return validationErr("%v does not match %s", value, pattern)
		}
		return nil
	})
}

var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Email is a pragmatic email shape check, not an RFC 5322 parser.
func Email() Validator {
	return ValidatorFunc(func(_ *Document, value any) error {
		s, ok := value.(string)
		if !ok || !emailRe.MatchString(strings.TrimSpace(s)) {
			return validationErr("%v is not an email address", value)
		}
		return nil
	})
}

func describeValidator(v Validator) string {
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", v)
}
