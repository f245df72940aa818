package shared

import "errors"

var (
	ErrUnauthorized          = errors.New("unauthorized")
	ErrForbidden             = errors.New("forbidden")
	ErrNoLogger              = errors.New("no logger provided")
	ErrNoConfig              = errors.New("no config provided")
	ErrNoAPIKey              = errors.New("no API key provided")
	ErrNoCredential          = errors.New("no credential provided")
	ErrNoDialer              = errors.New("no dialer provided")
	ErrUnknownTransport      = errors.New("unknown transport")
	ErrSessionAlreadyRunning = errors.New("session already running")
	ErrNoActiveSession       = errors.New("no active session")
	ErrTransportNotOpen      = errors.New("transport not open")
	ErrTransportClosed       = errors.New("transport closed")
)
