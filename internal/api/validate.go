package api

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/erazemk/filial/internal/model"
)

// fieldError describes one failed validation rule.
type fieldError struct {
	Field string `json:"field"`
	Tag   string `json:"tag"`
	Param string `json:"param,omitempty"`
}

// newValidator returns a validator that also knows the "branch" tag
// (a configured branch id) and the "status" tag (a lifecycle status).
func newValidator(branches model.BranchSet) *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterValidation("branch", func(fl validator.FieldLevel) bool {
		return branches.Contains(fl.Field().String())
	})
	v.RegisterValidation("status", func(fl validator.FieldLevel) bool {
		return model.Status(fl.Field().String()).Valid()
	})
	return v
}

func validateStruct(v *validator.Validate, data any) []*fieldError {
	var errs []*fieldError
	err := v.Struct(data)
	if err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return []*fieldError{{Field: "", Tag: err.Error()}}
		}
		for _, e := range verrs {
			errs = append(errs, &fieldError{
				Field: e.Field(),
				Tag:   e.Tag(),
				Param: e.Param(),
			})
		}
	}
	return errs
}

// validationMessage renders the first failure for an error response.
func validationMessage(errs []*fieldError) string {
	e := errs[0]
	switch e.Tag {
	case "required":
		return fmt.Sprintf("%s is required", e.Field)
	case "branch":
		return fmt.Sprintf("%s is not a known branch", e.Field)
	case "status":
		return fmt.Sprintf("%s is not a known status", e.Field)
	case "gt", "min":
		return fmt.Sprintf("%s must be at least %s", e.Field, minParam(e))
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", e.Field, e.Param)
	default:
		return fmt.Sprintf("%s failed on '%s'", e.Field, e.Tag)
	}
}

func minParam(e *fieldError) string {
	if e.Tag == "gt" {
		var n int
		fmt.Sscanf(e.Param, "%d", &n)
		return fmt.Sprint(n + 1)
	}
	return e.Param
}
