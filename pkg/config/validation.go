package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/mediarelay/pkg/progress"
	"github.com/marmos91/mediarelay/pkg/upload"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags first, then the rules that span fields or
// need a package-level bound.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := cfg.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if ka := cfg.Session.KeepAlive; ka < upload.MinKeepAliveInterval || ka > upload.MaxKeepAliveInterval {
		return fmt.Errorf("session.keepalive must be between %s and %s, got %s",
			upload.MinKeepAliveInterval, upload.MaxKeepAliveInterval, ka)
	}

	if cfg.Session.MediaPartSize > upload.MaxPartSize || cfg.Session.ThumbnailPartSize > upload.MaxPartSize {
		return fmt.Errorf("session part sizes must not exceed %d bytes", upload.MaxPartSize)
	}

	if mi := cfg.Progress.MinInterval; mi < progress.MinMinInterval || mi > progress.DefaultMinInterval {
		return fmt.Errorf("progress.min_interval must be between %s and %s, got %s",
			progress.MinMinInterval, progress.DefaultMinInterval, mi)
	}

	return nil
}

// RequireTransport checks the settings only the worker needs: credentials
// and the session endpoint.
func RequireTransport(cfg *Config) error {
	var missing []string
	if cfg.BotAPI.Token == "" {
		missing = append(missing, "botapi.token")
	}
	if cfg.Session.Endpoint == "" {
		missing = append(missing, "session.endpoint")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s (set them in the config file or via %s_* environment variables)",
			strings.Join(missing, ", "), EnvPrefix)
	}
	return nil
}

// formatValidationError turns validator errors into one line per field.
func formatValidationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed '%s=%s' (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed '%s'", fe.Namespace(), fe.Tag()))
		}
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
