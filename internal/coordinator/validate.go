package coordinator

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

const tagStreamID = "streamid"

type payloadValidator struct {
	v                *validator.Validate
	maxMessageLength int
}

func newPayloadValidator(streamIDPattern string, maxMessageLength int) (*payloadValidator, error) {
	pattern, err := regexp.Compile(streamIDPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid stream id pattern %q: %w", streamIDPattern, err)
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation(tagStreamID, func(fl validator.FieldLevel) bool {
		return pattern.MatchString(fl.Field().String())
	}); err != nil {
		return nil, err
	}

	return &payloadValidator{v: v, maxMessageLength: maxMessageLength}, nil
}

// required checks presence of every tagged field and names all missing ones
func (p *payloadValidator) required(req interface{}) error {
	err := p.v.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return validationError("invalid payload")
	}

	missing := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		missing = append(missing, fe.Field())
	}
	return validationError(requiredMessage(missing))
}

func (p *payloadValidator) streamID(id string) error {
	if err := p.v.Var(id, tagStreamID); err != nil {
		return validationError(fmt.Sprintf("invalid streamId format: %s", id))
	}
	return nil
}

func (p *payloadValidator) content(content string) error {
	if strings.TrimSpace(content) == "" {
		return validationError(requiredMessage([]string{"content"}))
	}
	if p.maxMessageLength > 0 {
		if err := p.v.Var(content, fmt.Sprintf("max=%d", p.maxMessageLength)); err != nil {
			return validationError(fmt.Sprintf("content exceeds maximum length of %d characters", p.maxMessageLength))
		}
	}
	return nil
}

func requiredMessage(fields []string) string {
	switch len(fields) {
	case 0:
		return "invalid payload"
	case 1:
		return fields[0] + " is required"
	case 2:
		return fields[0] + " and " + fields[1] + " are required"
	default:
		return strings.Join(fields[:len(fields)-1], ", ") + " and " + fields[len(fields)-1] + " are required"
	}
}
