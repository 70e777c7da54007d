package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/suPer8Hu/assistant-relay/internal/attachment"
)

const (
	MaxMessageChars = 4000
	maxBodyBytes    = 1 << 20
)

// Request is the assistant relay body.
type Request struct {
	Message        string            `json:"message" validate:"notblank,max=4000"`
	ThreadID       string            `json:"threadId" validate:"omitempty,max=128,printascii,excludesall=/?#"`
	ConversationID string            `json:"conversationId" validate:"omitempty,uuid"`
	Files          []attachment.File `json:"files" validate:"max=5,dive"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// decodeBody reads one JSON object from r into dst.
func decodeBody(r io.Reader, dst any) *Error {
	if r == nil {
		return invalid("body: must not be empty")
	}
	dec := json.NewDecoder(io.LimitReader(r, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return invalid("body: must not be empty")
		}
		var te *json.UnmarshalTypeError
		if errors.As(err, &te) && te.Field != "" {
			return invalid(fmt.Sprintf("%s: must be a %s", te.Field, jsonKind(te.Type)))
		}
		return invalid("body: must be a JSON object")
	}
	return nil
}

// validateStruct reports the first violation only.
func validateStruct(v any) *Error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) || len(ves) == 0 {
		return invalid("body: invalid")
	}
	return invalid(describe(ves[0]))
}

func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}

	list := fe.Kind() == reflect.Slice || fe.Kind() == reflect.Array
	var msg string
	switch fe.Tag() {
	case "required", "notblank":
		msg = "must not be empty"
	case "max":
		if list {
			msg = fmt.Sprintf("must contain at most %s items", fe.Param())
		} else if fe.Kind() == reflect.String {
			msg = fmt.Sprintf("must be at most %s characters", fe.Param())
		} else {
			msg = fmt.Sprintf("must be at most %s", fe.Param())
		}
	case "min":
		if list {
			msg = fmt.Sprintf("must contain at least %s items", fe.Param())
		} else if fe.Kind() == reflect.String {
			msg = fmt.Sprintf("must be at least %s characters", fe.Param())
		} else {
			msg = fmt.Sprintf("must be at least %s", fe.Param())
		}
	case "gte":
		msg = fmt.Sprintf("must be at least %s", fe.Param())
	case "uuid":
		msg = "must be a valid UUID"
	case "oneof":
		msg = "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	default:
		msg = "is invalid"
	}
	return field + ": " + msg
}

func jsonKind(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Slice, reflect.Array:
		return "list"
	case reflect.Struct, reflect.Map:
		return "object"
	case reflect.Bool:
		return "boolean"
	default:
		return "number"
	}
}
