package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a single configuration problem.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var recognizedLogFormats = map[string]bool{
	"text": true,
	"json": true,
}

var recognizedLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Settings for semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(s *Settings) []ValidationError {
	var errs []ValidationError

	if s.Paths.EpocRoot == "" {
		errs = append(errs, ValidationError{Field: "paths.epoc_root", Message: "is required"})
	}
	if s.Paths.DependencyDir == "" {
		errs = append(errs, ValidationError{Field: "paths.dependency_dir", Message: "is required"})
	}
	if !recognizedLogFormats[strings.ToLower(s.Log.Format)] {
		errs = append(errs, ValidationError{
			Field:   "log.format",
			Message: fmt.Sprintf("unrecognized format %q", s.Log.Format),
		})
	}
	if !recognizedLogLevels[strings.ToLower(s.Log.Level)] {
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("unrecognized level %q", s.Log.Level),
		})
	}

	// Publishing is optional, but a half configured target is a mistake.
	p := s.Publish
	if p.Endpoint != "" || p.Bucket != "" {
		if p.Endpoint == "" {
			errs = append(errs, ValidationError{Field: "publish.endpoint", Message: "is required when a bucket is set"})
		}
		if p.Bucket == "" {
			errs = append(errs, ValidationError{Field: "publish.bucket", Message: "is required when an endpoint is set"})
		}
	}

	for edition, path := range s.Paths.EpocZips {
		if path == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("paths.epoc_zips.%s", edition),
				Message: "is empty",
			})
		}
	}

	return errs
}
