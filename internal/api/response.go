// Package api defines the JSON result envelope and the stable error codes of
// the public surface. Codes must not change between versions; clients match on
// them.
package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Stable error codes.
const (
	// CodeMissingPolicy is returned when a token type declares a policy action
	// as required for enrollment and no policy of that scope provides it.
	CodeMissingPolicy = 303
	// CodeAuthFailed is returned when an authentication attempt is rejected
	// (wrong PIN, unknown user, signature failure on a confirmation).
	CodeAuthFailed = 401
	// CodeDelivery is returned when the outbound push notification could not
	// be delivered. The challenge (if any) stays valid for a retry.
	CodeDelivery = 904
	// CodeParameter is returned for malformed or missing parameters and for
	// operations invalid in the token's current rollout state, including
	// enrollment step 2 on a serial that is not in clientwait.
	CodeParameter = 905
	// CodeInvalidCredential is returned when enrollment step 2 carries a
	// credential that does not match the one issued in step 1.
	CodeInvalidCredential = 906
)

// Error is a stable-coded error carried from services to the API boundary.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("ERR%d: %s", e.Code, e.Message)
}

// NewError returns an Error with the given stable code and message.
func NewError(code int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Result is the outcome part of the envelope. Value is a pointer so that
// responses without an authentication outcome (e.g. enrollment) omit it.
type Result struct {
	Status bool   `json:"status"`
	Value  *bool  `json:"value,omitempty"`
	Error  *Error `json:"error,omitempty"`
}

// Response is the full envelope: result plus an optional detail payload.
type Response struct {
	Result Result                 `json:"result"`
	Detail map[string]interface{} `json:"detail,omitempty"`
}

// OK returns a success envelope with the given detail and no value.
func OK(detail map[string]interface{}) Response {
	return Response{Result: Result{Status: true}, Detail: detail}
}

// OKValue returns a success envelope carrying an authentication outcome.
func OKValue(value bool, detail map[string]interface{}) Response {
	return Response{Result: Result{Status: true, Value: &value}, Detail: detail}
}

// Fail maps err to an HTTP status and a failure envelope. Unrecognized errors
// become a generic 500 so that internal messages do not leak.
func Fail(err error) (int, Response) {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		apiErr = &Error{Code: http.StatusInternalServerError, Message: "internal server error"}
	}
	return HTTPStatus(apiErr.Code), Response{Result: Result{Status: false, Error: apiErr}}
}

// HTTPStatus maps a stable error code to its HTTP status.
func HTTPStatus(code int) int {
	switch code {
	case CodeMissingPolicy:
		return http.StatusForbidden
	case CodeAuthFailed:
		return http.StatusUnauthorized
	case CodeParameter, CodeInvalidCredential:
		return http.StatusBadRequest
	case CodeDelivery:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
