package validate

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cast"
)

type Kind int

const (
	String Kind = iota
	Number
	Integer
)

// Field is one validated form field. Rule uses validator tag syntax and is applied
// after the value has been coerced to Kind.
type Field struct {
	Name     string
	Label    string
	Kind     Kind
	Required bool
	Rule     string
}

type Schema struct {
	Name   string
	Fields []Field
}

var (
	engine     *validator.Validate
	engineOnce sync.Once
)

func rules() *validator.Validate {
	engineOnce.Do(func() {
		engine = validator.New(validator.WithRequiredStructEnabled())
	})
	return engine
}

// Validate returns human-readable errors; an empty list means the fields are valid.
// Missing required fields and fields unknown to the schema are always errors.
func (s *Schema) Validate(fields map[string]any) []string {
	errs := []string{}

	for _, f := range s.Fields {
		raw, ok := fields[f.Name]
		if !ok || isBlank(raw) {
			if f.Required {
				errs = append(errs, fmt.Sprintf("%s is required", f.label()))
			}
			continue
		}

		if msg := f.check(raw); msg != "" {
			errs = append(errs, msg)
		}
	}

	var unknown []string
	for name := range fields {
		if !slices.ContainsFunc(s.Fields, func(f Field) bool { return f.Name == name }) {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	for _, name := range unknown {
		errs = append(errs, fmt.Sprintf("%s is not a known field", name))
	}

	return errs
}

// Normalize coerces the known fields to their kinds, dropping blank values. It is
// meant to be called on fields that passed Validate.
func (s *Schema) Normalize(fields map[string]any) map[string]any {
	res := make(map[string]any, len(fields))
	for _, f := range s.Fields {
		raw, ok := fields[f.Name]
		if !ok || isBlank(raw) {
			continue
		}
		if v, err := f.coerce(raw); err == nil {
			res[f.Name] = v
		}
	}
	return res
}

func (f *Field) label() string {
	if f.Label != "" {
		return f.Label
	}
	return f.Name
}

func (f *Field) coerce(raw any) (any, error) {
	switch f.Kind {
	case Number:
		return cast.ToFloat64E(trimString(raw))
	case Integer:
		v, err := cast.ToFloat64E(trimString(raw))
		if err != nil {
			return nil, err
		}
		if v != float64(int64(v)) {
			return nil, errors.New("not an integer")
		}
		return int64(v), nil
	default:
		s, err := cast.ToStringE(raw)
		return strings.TrimSpace(s), err
	}
}

func (f *Field) check(raw any) string {
	v, err := f.coerce(raw)
	if err != nil {
		switch f.Kind {
		case Integer:
			return fmt.Sprintf("%s must be a whole number", f.label())
		case Number:
			return fmt.Sprintf("%s must be a number", f.label())
		default:
			return fmt.Sprintf("%s must be text", f.label())
		}
	}

	if f.Rule == "" {
		return ""
	}

	err = rules().Var(v, f.Rule)
	if err == nil {
		return ""
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Sprintf("%s is invalid", f.label())
	}
	return f.message(verrs[0])
}

func (f *Field) message(fe validator.FieldError) string {
	lo, hi := f.bounds()

	switch fe.Tag() {
	case "gte", "lte", "min", "max", "gt", "lt":
		if lo != "" && hi != "" {
			return fmt.Sprintf("%s must be between %s and %s", f.label(), lo, hi)
		}
		if fe.Tag() == "gte" || fe.Tag() == "min" || fe.Tag() == "gt" {
			return fmt.Sprintf("%s must be at least %s", f.label(), fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", f.label(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", f.label(), strings.Join(strings.Fields(fe.Param()), ", "))
	case "datetime":
		return fmt.Sprintf("%s must be a date in %s format", f.label(), dateLayoutHint(fe.Param()))
	default:
		return fmt.Sprintf("%s failed %s validation", f.label(), fe.Tag())
	}
}

func (f *Field) bounds() (lo, hi string) {
	for _, part := range strings.Split(f.Rule, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch k {
		case "gte", "min", "gt":
			lo = v
		case "lte", "max", "lt":
			hi = v
		}
	}
	return
}

func dateLayoutHint(layout string) string {
	r := strings.NewReplacer("2006", "YYYY", "01", "MM", "02", "DD")
	return r.Replace(layout)
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

func trimString(v any) any {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return v
}
