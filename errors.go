package togglekit

import "errors"

// Predefined errors for the togglekit package.
var (
	// ErrMissingAppName indicates the required application name was not configured.
	ErrMissingAppName = errors.New("application name is required")

	// ErrMissingURL indicates the required service URL was not configured.
	ErrMissingURL = errors.New("service url is required")

	// ErrInvalidURL indicates the configured service URL could not be parsed
	// or uses an unsupported scheme.
	ErrInvalidURL = errors.New("invalid service url")

	// ErrConfigParse indicates environment-based configuration loading failed.
	ErrConfigParse = errors.New("failed to parse configuration")

	// ErrBackupLoad indicates the local backup snapshot could not be read or decoded.
	ErrBackupLoad = errors.New("failed to load backup snapshot")

	// ErrBackupSave indicates the local backup snapshot could not be written.
	ErrBackupSave = errors.New("failed to save backup snapshot")

	// ErrFetchFailed indicates a feature synchronization request failed.
	ErrFetchFailed = errors.New("feature fetch failed")

	// ErrMetricsSend indicates a metrics report could not be delivered.
	ErrMetricsSend = errors.New("metrics delivery failed")

	// ErrRegisterFailed indicates the one-time client registration failed.
	ErrRegisterFailed = errors.New("client registration failed")

	// ErrClientClosed indicates an operation was attempted on a closed client.
	ErrClientClosed = errors.New("client is closed")
)

// errNotModified signals a conditional fetch answered by the service with
// "not modified". It never escapes the package; the repository translates
// it into an unchanged event.
var errNotModified = errors.New("features not modified")

// errTransport marks a connection-level failure, as opposed to a response
// the service actively returned. The metrics collector reports transport
// failures as error events rather than warns.
var errTransport = errors.New("service unreachable")
