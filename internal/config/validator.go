package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/laundrydesk/abac-pdp/internal/audit"
)

// RegisterCustomValidators adds the config-specific tags to v
func RegisterCustomValidators(v *validator.Validate) error {
	return v.RegisterValidation("audit_type", func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		return value == "" || slices.Contains(audit.ValidTypes, value)
	})
}

// Validate checks field constraints and the rules that span sections
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := RegisterCustomValidators(v); err != nil {
		return fmt.Errorf("failed to register validators: %w", err)
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	var problems []string
	if c.Audit.Enabled {
		switch c.Audit.Type {
		case "":
			problems = append(problems, "audit.type is required when audit is enabled")
		case audit.TypeFile:
			if c.Audit.FilePath == "" {
				problems = append(problems, "audit.file_path is required for file output")
			}
		case audit.TypeSyslog:
			if c.Audit.SyslogAddr == "" {
				problems = append(problems, "audit.syslog_addr is required for syslog output")
			}
		case audit.TypePostgres:
			if c.Database.DSN == "" {
				problems = append(problems, "database.dsn is required for postgres output")
			}
		}
	}
	if c.Auth.Enabled && c.Auth.Secret == "" && c.Auth.PublicKeyFile == "" {
		problems = append(problems, "auth.secret or auth.public_key_file is required when auth is enabled")
	}
	if c.Policies.Watch && c.Policies.Dir == "" {
		problems = append(problems, "policies.dir is required when policies.watch is set")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func formatValidationErrors(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		switch fe.Tag() {
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value()))
		case "audit_type":
			msgs = append(msgs, fmt.Sprintf("%s must be one of %v, got %q", field, audit.ValidTypes, fe.Value()))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", field, fe.Param()))
		case "gt":
			msgs = append(msgs, fmt.Sprintf("%s must be greater than %s", field, fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", field, fe.Tag()))
		}
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}
