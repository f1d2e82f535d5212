package config

import (
	"context"
	"errors"
	"fmt"

	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
)

// Validate checks the record with struct tags and then the project schema.
// Without defaults, every key absent from the source is reported as empty.
func (l *Loader) Validate(ctx context.Context, lc *LoadedConfig) []ValidationError {
	var findings []ValidationError

	if err := l.validator.Struct(lc.Project); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return append(findings, ValidationError{
				File:     lc.Source,
				Message:  err.Error(),
				Severity: SeverityError,
			})
		}
		for _, fe := range verrs {
			findings = append(findings, fieldFinding(lc, fe))
		}
	}

	// The schema reports the same problems with less precise messages, so
	// it only runs on records the struct tags accept.
	if len(findings) > 0 {
		return findings
	}

	if err := l.schemas.ValidateProject(ctx, lc.Project); err != nil {
		var cerr cueerrors.Error
		if errors.As(err, &cerr) {
			return append(findings, convertCUEErrors(lc.Source, err)...)
		}
		findings = append(findings, ValidationError{
			File:     lc.Source,
			Message:  err.Error(),
			Severity: SeverityError,
		})
	}

	return findings
}

// fieldFinding turns a struct tag failure into a finding on the setting key.
func fieldFinding(lc *LoadedConfig, fe validator.FieldError) ValidationError {
	key := jsonKey(fe.StructField())

	var msg string
	switch {
	case fe.Tag() == "required" && !lc.IsSet(key):
		msg = "is not set"
	case fe.Tag() == "required":
		msg = "must be a non-empty value"
	case fe.Tag() == "oneof":
		msg = fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fmt.Sprint(fe.Value()))
	default:
		msg = fmt.Sprintf("failed %q check", fe.Tag())
	}
	return ValidationError{
		File:     lc.Source,
		Path:     key,
		Message:  msg,
		Severity: SeverityError,
	}
}

var fieldKeys = map[string]string{
	"ProjectType":             KeyProjectType,
	"HTTPPath":                KeyHTTPPath,
	"HTTPImagesPath":          KeyHTTPImagesPath,
	"HTTPGeneratedImagesPath": KeyHTTPGeneratedImagesPath,
	"HTTPFontsPath":           KeyHTTPFontsPath,
	"CSSDir":                  KeyCSSDir,
	"SassDir":                 KeySassDir,
	"ImagesDir":               KeyImagesDir,
	"FontsDir":                KeyFontsDir,
	"LineComments":            KeyLineComments,
	"OutputStyle":             KeyOutputStyle,
	"Requires":                keyRequires,
}

func jsonKey(field string) string {
	if k, ok := fieldKeys[field]; ok {
		return k
	}
	return field
}
