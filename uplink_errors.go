package datalog

import (
	"errors"
	"fmt"
	"net/http"

	cerrors "github.com/palantir/conjure-go-runtime/v2/conjure-go-contract/errors"
)

// UplinkError wraps a LogWriter failure with the details of the Conjure
// error behind it, when there is one.
type UplinkError struct {
	err        error
	code       string
	name       string
	instanceID string
	statusCode int
	params     map[string]interface{}
}

func (e *UplinkError) Error() string {
	switch {
	case e.name != "":
		return fmt.Sprintf("%s [%s] (instanceId=%s): %v", e.name, e.code, e.instanceID, e.err)
	case e.statusCode != 0:
		return fmt.Sprintf("HTTP %d: %v", e.statusCode, e.err)
	default:
		return e.err.Error()
	}
}

func (e *UplinkError) Unwrap() error { return e.err }

// Code returns the Conjure error code, e.g. "NOT_FOUND".
func (e *UplinkError) Code() string { return e.code }

// Name returns the Conjure error name, e.g. "Scout:DatasetNotFound".
func (e *UplinkError) Name() string { return e.name }

func (e *UplinkError) InstanceID() string { return e.instanceID }

func (e *UplinkError) StatusCode() int { return e.statusCode }

func (e *UplinkError) Parameters() map[string]interface{} { return e.params }

// NewStatusError wraps a transport failure that carries only an HTTP status,
// for LogWriter implementations that do not go through a Conjure client.
func NewStatusError(statusCode int, err error) error {
	if err == nil {
		err = errors.New(http.StatusText(statusCode))
	}
	return &UplinkError{err: err, statusCode: statusCode}
}

// AsUplinkError extracts an UplinkError from an error chain.
func AsUplinkError(err error) (*UplinkError, bool) {
	var upErr *UplinkError
	if errors.As(err, &upErr) {
		return upErr, true
	}
	return nil, false
}

// IsRetryable reports whether a failed write is worth sending again.
func IsRetryable(err error) bool {
	upErr, ok := AsUplinkError(err)
	if !ok {
		return false
	}

	switch upErr.statusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	switch upErr.code {
	case "TIMEOUT", "INTERNAL", "FAILED_PRECONDITION":
		return true
	}
	return false
}

func wrapWriteError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsUplinkError(err); ok {
		return err
	}

	upErr := &UplinkError{err: err}

	var conjureErr cerrors.Error
	if errors.As(err, &conjureErr) {
		upErr.code = conjureErr.Code().String()
		upErr.name = conjureErr.Name()
		upErr.instanceID = conjureErr.InstanceID().String()
		upErr.statusCode = conjureErr.Code().StatusCode()
		upErr.params = conjureErr.Parameters()
	}
	return upErr
}
