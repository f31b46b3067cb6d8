package service

import (
	"context"
	"errors"
	"fmt"
	"net"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrorKind is the stable category persisted with every failed evaluation.
type ErrorKind string

// Evaluation failure categories.
const (
	KindConnectivity           ErrorKind = "connectivity"
	KindNoTestArtifacts        ErrorKind = "no_test_artifacts"
	KindNoUsableTestCases      ErrorKind = "no_usable_test_cases"
	KindUnsupportedLanguage    ErrorKind = "unsupported_language"
	KindRemoteSubmissionFailed ErrorKind = "remote_submission_failed"
	KindSystemicJudgeFailure   ErrorKind = "systemic_judge_failure"
	KindLocalExecution         ErrorKind = "local_execution"
	KindPollTimeout            ErrorKind = "poll_timeout"
	KindSubmissionNotFound     ErrorKind = "submission_not_found"
	KindUnexpected             ErrorKind = "unexpected"
)

// errStorage marks failures of the relational store so they can be retried.
var errStorage = errors.New("storage failure")

// EvaluationError is the result-style error returned by evaluation stages.
type EvaluationError struct {
	Kind    ErrorKind
	Message string
	Details map[string]interface{}
	Err     error
}

func newEvaluationError(kind ErrorKind, message string, err error, details map[string]interface{}) *EvaluationError {
	if details == nil {
		details = map[string]interface{}{}
	}
	return &EvaluationError{Kind: kind, Message: message, Details: details, Err: err}
}

func (e *EvaluationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// Transient reports whether retrying the evaluation may succeed.
func (e *EvaluationError) Transient() bool {
	if e == nil || e.Kind != KindUnexpected || e.Err == nil {
		return false
	}
	if errors.Is(e.Err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(e.Err, errStorage) || errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(e.Err, &netErr)
}

// Diagnostics renders the structured payload stored on the submission.
func (e *EvaluationError) Diagnostics() datatypes.JSONMap {
	payload := datatypes.JSONMap{
		"kind":  string(e.Kind),
		"error": e.Message,
	}
	for key, value := range e.Details {
		payload[key] = value
	}
	if _, ok := payload["details"]; !ok && e.Err != nil {
		payload["details"] = e.Err.Error()
	}
	return payload
}

// IsTransient reports whether err carries a retryable evaluation failure.
func IsTransient(err error) bool {
	var evalErr *EvaluationError
	if errors.As(err, &evalErr) {
		return evalErr.Transient()
	}
	return false
}

func storageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, errStorage, err)
}
