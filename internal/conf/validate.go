// conf/validate.go

package conf

import (
	"errors"
	"fmt"
	"net"
	"slices"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateAudioSettings(&settings.Audio); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateHandlerSettings(&settings.Audio.Handlers); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if settings.Audio.Backend == BackendMalgo {
		if err := validateOutputSettings(&settings.Audio.Output); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if err := validateLogSettings(&settings.Main.Log); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if settings.Diagnostics.Enabled {
		if _, _, err := net.SplitHostPort(settings.Diagnostics.Listen); err != nil {
			ve.Errors = append(ve.Errors, fmt.Sprintf("invalid diagnostics listen address %q: %v", settings.Diagnostics.Listen, err))
		}
	}

	if settings.Telemetry.Enabled && settings.Telemetry.DSN == "" {
		ve.Errors = append(ve.Errors, "telemetry enabled but no DSN configured")
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateAudioSettings(settings *AudioSettings) error {
	var errs []error

	if !slices.Contains([]string{BackendSim, BackendMalgo}, settings.Backend) {
		errs = append(errs, fmt.Errorf("unknown audio backend %q, must be %q or %q", settings.Backend, BackendSim, BackendMalgo))
	}

	if settings.TickRate < 1 || settings.TickRate > 1000 {
		errs = append(errs, fmt.Errorf("audio tick rate must be between 1 and 1000 Hz, got %d", settings.TickRate))
	}

	return errors.Join(errs...)
}

func validateHandlerSettings(settings *HandlerSettings) error {
	var errs []error

	if settings.Capacity < 1 {
		errs = append(errs, fmt.Errorf("handler capacity must be greater than 0, got %d", settings.Capacity))
	}
	if settings.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("handler batch size must be greater than 0, got %d", settings.BatchSize))
	}
	if settings.Workers < 0 {
		errs = append(errs, fmt.Errorf("handler workers must not be negative, got %d", settings.Workers))
	}

	return errors.Join(errs...)
}

func validateOutputSettings(settings *OutputSettings) error {
	var errs []error

	if settings.SampleRate < 8000 || settings.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("output sample rate %d out of range", settings.SampleRate))
	}
	if settings.Channels != 1 && settings.Channels != 2 {
		errs = append(errs, fmt.Errorf("output channels must be 1 or 2, got %d", settings.Channels))
	}
	if settings.BufferFrames < 64 {
		errs = append(errs, fmt.Errorf("output buffer must be at least 64 frames, got %d", settings.BufferFrames))
	}

	return errors.Join(errs...)
}

func validateLogSettings(settings *LogConfig) error {
	if !settings.Enabled {
		return nil
	}
	switch settings.Rotation {
	case RotationDaily, RotationWeekly, RotationSize:
	default:
		return fmt.Errorf("unknown log rotation %q", settings.Rotation)
	}
	if settings.Path == "" {
		return errors.New("log enabled but no path configured")
	}
	return nil
}
