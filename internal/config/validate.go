package config

import (
	"errors"
	"fmt"
	"strings"

	"filippo.io/age"
	"github.com/go-playground/validator/v10"
	"github.com/jinzoro/syseng-scripts/internal/helpers"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the whole configuration. Service-level requirements that depend
// on CLI overrides (artifact, command) are checked by ValidateForDeploy instead.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}

	if c.RootDir == "" {
		return errors.New("root_dir must not be empty")
	}

	for _, name := range c.ServiceNames() {
		if !helpers.IsValidServiceName(name) {
			return fmt.Errorf("invalid service name '%s'; must contain only alphanumeric characters, hyphens, and underscores", name)
		}
		svc, _ := c.Service(name)
		if svc.Health.URL != "" {
			if err := helpers.ValidateHTTPURL(svc.Health.URL); err != nil {
				return fmt.Errorf("service '%s': health.url: %w", name, err)
			}
		}
	}

	if c.Backup.AgeRecipient != "" {
		if _, err := age.ParseX25519Recipient(c.Backup.AgeRecipient); err != nil {
			return fmt.Errorf("backup.age_recipient: %w", err)
		}
	}
	return nil
}

// ValidateForDeploy checks that a resolved service has everything a deployment needs.
func (s ServiceConfig) ValidateForDeploy(controller string) error {
	if s.Artifact == "" {
		return errors.New("no artifact source configured; set services.<name>.artifact or pass --artifact")
	}
	switch controller {
	case ControllerDocker:
		if s.Image == "" {
			return errors.New("the docker controller requires services.<name>.image")
		}
	default:
		if len(s.Command) == 0 {
			return errors.New("no command configured; set services.<name>.command")
		}
	}
	if s.Health.URL != "" {
		if err := helpers.ValidateHTTPURL(s.Health.URL); err != nil {
			return fmt.Errorf("health url: %w", err)
		}
	}
	if s.Health.Attempts < 1 {
		return errors.New("health attempts must be at least 1")
	}
	if s.Retention.Versions < 1 || s.Retention.Backups < 1 {
		return errors.New("retention counts must be at least 1")
	}
	return nil
}

func formatValidationError(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}
	msgs := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed '%s=%s' (value %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed '%s' (value %v)", field, fe.Tag(), fe.Value()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
