// Package capture turns a camera that streams decoded QR values into a
// preview/capture session.
package capture

import "context"

// Device describes one camera as reported by enumeration.
type Device struct {
	ID    string
	Label string
}

// Handle is an opaque running stream returned by Camera.Start.
type Handle any

// Camera is the device API. Implementations are not reentrant: Start must not
// be called for a device until the previous Stop has returned.
type Camera interface {
	Enumerate(ctx context.Context) ([]Device, error)
	Start(ctx context.Context, device Device, onDecoded func(string)) (Handle, error)
	Stop(ctx context.Context, handle Handle) error
}
