package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/vikasgaddu1/sdtmforge/pkg/errors"
)

var validate = validator.New()

// Validate checks a Config against its struct tags and returns a single
// error describing every failed field.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New(errors.InvalidInput, "config is nil")
	}

	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.Wrap(err, errors.ValidationFailed, "config validation failed")
	}

	fields := errors.Fields{}
	for _, fe := range verrs {
		fields[fe.Namespace()] = fmt.Sprintf("failed %q constraint", fe.Tag())
	}
	return errors.WithFields(
		errors.New(errors.ValidationFailed, "config validation failed"),
		fields,
	)
}
