package domain

import (
	"fmt"
	"strings"
)

// SchemaMismatchError is returned when the feature-column list computed at
// inference does not equal the model artifact's stored schema, in order or
// membership. The remedy is retraining; columns are never silently
// reordered or dropped.
type SchemaMismatchError struct {
	Want []string
	Got  []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("feature schema mismatch: artifact has [%s], builder produced [%s]: retrain required",
		strings.Join(e.Want, ","), strings.Join(e.Got, ","))
}

// MalformedEventError reports a single invalid input record.
type MalformedEventError struct {
	Index  int
	Field  string
	Reason string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed event at index %d: field %q: %s", e.Index, e.Field, e.Reason)
}

// MalformedPolicyError is fatal at policy load time, before any scoring.
type MalformedPolicyError struct {
	Reason string
	Err    error
}

func (e *MalformedPolicyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed policy: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed policy: %s", e.Reason)
}

func (e *MalformedPolicyError) Unwrap() error { return e.Err }

// ArtifactError reports that a model artifact could not be read or that its
// three units (model, scaler, schema) are inconsistent with each other.
type ArtifactError struct {
	Location string
	Reason   string
	Err      error
}

func (e *ArtifactError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("artifact %s: %s: %v", e.Location, e.Reason, e.Err)
	}
	return fmt.Sprintf("artifact %s: %s", e.Location, e.Reason)
}

func (e *ArtifactError) Unwrap() error { return e.Err }
