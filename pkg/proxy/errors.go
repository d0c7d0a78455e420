package proxy

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectivityTimeout is returned by the readiness probe when the
	// upstream never answered. It is logged as a warning; startup continues.
	ErrConnectivityTimeout = errors.New("upstream connectivity timeout")

	// ErrTLSMaterialMissing is fatal for a route that requested HTTPS but
	// has no certificate to serve.
	ErrTLSMaterialMissing = errors.New("TLS material missing")

	// ErrInstanceStarted is returned when Start is called twice.
	ErrInstanceStarted = errors.New("proxy instance already started")

	// ErrInstanceClosed is returned by Start when the instance was shut
	// down before or while starting.
	ErrInstanceClosed = errors.New("proxy instance shut down")
)

// ForwardingError is a failed relay to the upstream. The client receives a
// 502 carrying its message.
type ForwardingError struct {
	Upstream string
	Err      error
}

func (e *ForwardingError) Error() string {
	return fmt.Sprintf("forwarding to %s: %v", e.Upstream, e.Err)
}

func (e *ForwardingError) Unwrap() error {
	return e.Err
}
