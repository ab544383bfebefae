package gateway

import (
	"errors"
	"fmt"
)

// Normalized response codes shared by all adapters. Bank-issued decline
// codes pass through verbatim; these cover the failures the adapter
// itself detects.
const (
	CodeNetworkError = "NETWORK_ERROR"
	CodeTimeout      = "TIMEOUT"
	CodeParsingError = "PARSING_ERROR"
	CodeHashMismatch = "HASH_MISMATCH"
	CodeNotSupported = "NOT_SUPPORTED"
)

// ErrUnsupportedGateway is returned by the registry when no adapter is
// registered for a gateway type.
var ErrUnsupportedGateway = errors.New("unsupported gateway type")

// ConfigError marks a missing or invalid gateway configuration. Fatal:
// the request fails before any transaction is created, no retry.
type ConfigError struct {
	Gateway string
	Reason  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.Gateway, e.Reason)
}

// ValidationError marks bad caller input, rejected before any network
// call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// GatewayDeclineError surfaces a bank-issued decline to callers that
// need an error value rather than a Response, keeping the bank's code
// and message verbatim.
type GatewayDeclineError struct {
	Code    string
	Message string
}

func (e *GatewayDeclineError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("declined by gateway (%s)", e.Code)
	}
	return fmt.Sprintf("declined by gateway (%s): %s", e.Code, e.Message)
}

// IsGatewayDecline reports whether err wraps a bank-issued decline.
func IsGatewayDecline(err error) bool {
	var de *GatewayDeclineError
	return errors.As(err, &de)
}

// IsConfigError reports whether err is a gateway configuration error.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsValidationError reports whether err is a caller-input validation error.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// FailureResponse synthesizes the adapter response for a transport-level
// failure, so network errors never cross the adapter boundary as Go
// errors.
func FailureResponse(code, message string) *Response {
	return &Response{
		Success: false,
		Code:    code,
		Message: message,
	}
}

// NotSupportedResponse reports that the gateway has no implementation
// for the requested operation. Capability gaps are reported, not
// best-effort guessed.
func NotSupportedResponse(gatewayType Type, operation string) *Response {
	return &Response{
		Success: false,
		Code:    CodeNotSupported,
		Message: fmt.Sprintf("%s does not support %s", gatewayType, operation),
	}
}
