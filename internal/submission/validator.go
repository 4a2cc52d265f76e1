package submission

import (
	"errors"
	"fmt"
	"path"
	"reflect"
	"slices"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/language"

	"medscribe/internal/jobs"
	"medscribe/internal/services"
)

// ValidationError lists rejected fields keyed by their API name.
type ValidationError struct {
	Details map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Details[k])
	}
	return "invalid submission: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return services.ErrValidation
}

func invalid(field, message string) *ValidationError {
	return &ValidationError{Details: map[string]string{field: message}}
}

// candidate is the normalized request as validated.
type candidate struct {
	Kind     jobs.InputKind `json:"input" validate:"oneof=audio text"`
	Ref      string         `json:"audio" validate:"omitempty,audio_format"`
	Text     string         `json:"text" validate:"omitempty,not_blank"`
	Model    string         `json:"model" validate:"model_tier"`
	Template string         `json:"template" validate:"note_template"`
	Language string         `json:"language" validate:"omitempty,language_tag"`
}

type validationRule struct {
	rule func(v *validator.Validate)
}

func registerFn(tag string, fn func(fl validator.FieldLevel) bool) validationRule {
	return validationRule{rule: func(v *validator.Validate) {
		_ = v.RegisterValidation(tag, fn)
	}}
}

// Validator wraps validator.Validate with the submission rules registered.
type Validator struct {
	validate *validator.Validate
}

// NewValidator builds a validator for the given tiers, templates and formats.
func NewValidator(models, templates, formats []string) *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	rules := []validationRule{
		registerFn("model_tier", oneOfValidator(models)),
		registerFn("note_template", oneOfValidator(templates)),
		registerFn("audio_format", audioFormatValidator(formats)),
		registerFn("language_tag", languageTagValidator),
		registerFn("not_blank", notBlankValidator),
	}
	for _, r := range rules {
		r.rule(v)
	}
	v.RegisterStructValidation(exactlyOneInput, candidate{})
	return &Validator{validate: v}
}

// check validates c and converts failures into a ValidationError.
func (v *Validator) check(c candidate) error {
	err := v.validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %w", services.ErrValidation, err)
	}
	out := &ValidationError{Details: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		out.Details[fe.Field()] = describe(fe)
	}
	return out
}

func describe(fe validator.FieldError) string {
	value := fmt.Sprint(fe.Value())
	switch fe.Tag() {
	case "model_tier":
		return fmt.Sprintf("unsupported model tier %q", value)
	case "note_template":
		return fmt.Sprintf("unsupported template %q", value)
	case "audio_format":
		return fmt.Sprintf("unsupported audio format %q", strings.TrimPrefix(path.Ext(value), "."))
	case "language_tag":
		return fmt.Sprintf("%q is not a valid language tag", value)
	case "not_blank":
		return "must not be blank"
	case "exactly_one":
		return "provide exactly one of audio or text"
	case "oneof":
		return "must be audio or text"
	default:
		return "failed " + fe.Tag()
	}
}

func oneOfValidator(allowed []string) func(fl validator.FieldLevel) bool {
	return func(fl validator.FieldLevel) bool {
		return slices.Contains(allowed, fl.Field().String())
	}
}

func audioFormatValidator(formats []string) func(fl validator.FieldLevel) bool {
	return func(fl validator.FieldLevel) bool {
		return formatAllowed(formats, fl.Field().String())
	}
}

func formatAllowed(formats []string, name string) bool {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(strings.ReplaceAll(name, "\\", "/"))), ".")
	return ext != "" && slices.Contains(formats, ext)
}

func languageTagValidator(fl validator.FieldLevel) bool {
	_, err := language.Parse(fl.Field().String())
	return err == nil
}

func notBlankValidator(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

func exactlyOneInput(sl validator.StructLevel) {
	c, ok := sl.Current().Interface().(candidate)
	if !ok {
		return
	}
	hasRef := strings.TrimSpace(c.Ref) != ""
	hasText := c.Text != ""
	switch {
	case hasRef && hasText:
		sl.ReportError(c.Text, "input", "Kind", "exactly_one", "")
	case c.Kind == jobs.InputAudio && !hasRef:
		sl.ReportError(c.Ref, "audio", "Ref", "exactly_one", "")
	case c.Kind == jobs.InputText && !hasText:
		sl.ReportError(c.Text, "text", "Text", "exactly_one", "")
	}
}
