package charging

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nerrad567/chargegate/internal/dispatch"
)

// requestValidator checks bodies that failed to decode so that every
// offending field is reported together. Validate is safe for concurrent use.
var requestValidator = newValidator()

// newValidator returns a validator reporting fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return jsonName(fld)
	})
	// Cannot fail: the tag name is fixed and the func non-nil.
	_ = v.RegisterValidation("chargeboxid", func(fl validator.FieldLevel) bool {
		return dispatch.ValidChargeBoxID(fl.Field().String())
	})
	return v
}

func jsonName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	return name
}

// check runs struct validation and converts failures to a *ValidationError.
func check(v *validator.Validate, req any) error {
	err := v.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validating request: %w", err)
	}

	out := &ValidationError{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{Field: fe.Field(), Message: message(fe)})
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "min":
		if fe.Kind() == reflect.Int {
			return "must be at least " + fe.Param()
		}
		return "must be at least " + fe.Param() + " characters"
	case "chargeboxid":
		return "must not contain '/', '+', '#' or NUL characters"
	default:
		return "is invalid"
	}
}

// DecodeJSON reads a single JSON object from r into v, a pointer to a
// request struct. Syntax errors and wrongly typed fields are reported as a
// *ValidationError. When any field has the wrong type the partially decoded
// request is validated too, so the error lists every offending field.
func DecodeJSON(r io.Reader, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("decoding request: %T is not a pointer to a struct", v)
	}

	dec := json.NewDecoder(r)
	var raw map[string]json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &typeErr):
			return bodyError("must be a JSON object")
		case errors.Is(err, io.EOF):
			return bodyError("is required")
		default:
			return bodyError("must be a valid JSON object")
		}
	}
	if dec.More() {
		return bodyError("must contain a single JSON object")
	}
	if raw == nil {
		return bodyError("must be a JSON object")
	}

	typeErrs := make(map[string]string)
	elem := rv.Elem()
	for i := range elem.NumField() {
		fld := elem.Type().Field(i)
		name := jsonName(fld)
		if name == "" || !fld.IsExported() {
			continue
		}
		value, ok := lookup(raw, name)
		if !ok {
			continue
		}
		if err := json.Unmarshal(value, elem.Field(i).Addr().Interface()); err != nil {
			typeErrs[name] = "must be " + describeKind(fld.Type)
		}
	}
	if len(typeErrs) == 0 {
		return nil
	}

	if n, ok := v.(interface{ normalize() }); ok {
		n.normalize()
	}
	invalid := make(map[string]string)
	var verr *ValidationError
	if errors.As(check(requestValidator, v), &verr) {
		for _, f := range verr.Fields {
			invalid[f.Field] = f.Message
		}
	}

	out := &ValidationError{}
	for i := range elem.NumField() {
		name := jsonName(elem.Type().Field(i))
		if msg, ok := typeErrs[name]; ok {
			out.Fields = append(out.Fields, FieldError{Field: name, Message: msg})
		} else if msg, ok := invalid[name]; ok {
			out.Fields = append(out.Fields, FieldError{Field: name, Message: msg})
		}
	}
	return out
}

// lookup finds key in raw, falling back to a case-insensitive match the way
// encoding/json does.
func lookup(raw map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	if v, ok := raw[key]; ok {
		return v, true
	}
	for k, v := range raw {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func bodyError(msg string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: "body", Message: msg}}}
}

func describeKind(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int32, reflect.Int64:
		return "an integer"
	case reflect.String:
		return "a string"
	case reflect.Struct:
		return "a JSON object"
	default:
		return "of type " + t.String()
	}
}
