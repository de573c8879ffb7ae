package config

import (
	"fmt"
	"strings"
	"time"

	"grimm.is/audiolink/internal/logging"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate validates a normalized configuration.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	if d, err := time.ParseDuration(c.PollInterval); err != nil {
		errs = append(errs, ValidationError{"poll_interval", fmt.Sprintf("invalid duration %q", c.PollInterval)})
	} else if d < MinPollInterval {
		errs = append(errs, ValidationError{"poll_interval", fmt.Sprintf("must be at least %s", MinPollInterval)})
	}

	if c.HubEnabled() {
		if strings.TrimSpace(c.Hub.SinkName) == "" {
			errs = append(errs, ValidationError{"hub.sink_name", "must not be empty"})
		}
		if strings.TrimSpace(c.Hub.SourceName) == "" {
			errs = append(errs, ValidationError{"hub.source_name", "must not be empty"})
		}
		if c.Hub.SinkName != "" && c.Hub.SinkName == c.Hub.SourceName {
			errs = append(errs, ValidationError{"hub.source_name", "must differ from hub.sink_name"})
		}
	}

	if c.Gain != nil && (c.Gain.OffsetDB < MinGainDB || c.Gain.OffsetDB > MaxGainDB) {
		errs = append(errs, ValidationError{"gain.offset_db", fmt.Sprintf("must be between %g and %g", MinGainDB, MaxGainDB)})
	}

	if c.RetentionDays() < 0 {
		errs = append(errs, ValidationError{"journal.retention_days", "must not be negative"})
	}

	if c.Log != nil {
		if _, err := logging.ParseLevel(c.Log.Level); err != nil {
			errs = append(errs, ValidationError{"log.level", err.Error()})
		}
	}

	return errs
}

// Warnings returns non-fatal observations about a normalized configuration.
func (c *Config) Warnings() []string {
	var warns []string
	for _, role := range []struct {
		name string
		cfg  *RoleConfig
	}{{"capture", c.Capture}, {"playback", c.Playback}} {
		if role.cfg == nil {
			continue
		}
		if role.cfg.Auto && len(role.cfg.Selected) > 0 {
			warns = append(warns, fmt.Sprintf("%s: selected keys are ignored while auto is on", role.name))
		}
		excluded := make(map[string]bool, len(role.cfg.Exclude))
		for _, k := range role.cfg.Exclude {
			excluded[k] = true
		}
		for _, k := range role.cfg.Selected {
			if excluded[k] {
				warns = append(warns, fmt.Sprintf("%s: %q is both selected and excluded", role.name, k))
			}
		}
	}
	if !c.HubEnabled() {
		warns = append(warns, "hub disabled: every selected source is linked to every selected target")
	}
	if c.ListenAddr() == "" {
		warns = append(warns, "listen is empty: control API disabled")
	}
	return warns
}
