package model

import "encoding/json"

type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailure OutcomeStatus = "failure"
)

// JobOutcome is what a handler reports back to the worker pool.
// Retryable nil leaves the decision to the attempt count.
type JobOutcome struct {
	Status         OutcomeStatus
	Result         json.RawMessage
	Err            error
	Classification string
	Retryable      *bool
}

func Success(result json.RawMessage) JobOutcome {
	return JobOutcome{Status: OutcomeSuccess, Result: result}
}

// Failure reports err without an explicit retry decision.
func Failure(err error, classification string) JobOutcome {
	return JobOutcome{Status: OutcomeFailure, Err: err, Classification: classification}
}

func RetryableFailure(err error, classification string) JobOutcome {
	o := Failure(err, classification)
	o.Retryable = boolPtr(true)
	return o
}

func PermanentFailure(err error, classification string) JobOutcome {
	o := Failure(err, classification)
	o.Retryable = boolPtr(false)
	return o
}

// ErrorMessage is the string persisted on the job row and in its error history.
func (o JobOutcome) ErrorMessage() string {
	msg := "unknown error"
	if o.Err != nil {
		msg = o.Err.Error()
	}
	if o.Classification != "" {
		return o.Classification + ": " + msg
	}
	return msg
}

func boolPtr(b bool) *bool { return &b }
