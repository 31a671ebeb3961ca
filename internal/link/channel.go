package link

import (
	"context"
	"errors"
	"io"
)

var (
	ErrNoDevice         = errors.New("link: no device found")
	ErrPermissionDenied = errors.New("link: permission denied")
	ErrOpenFailed       = errors.New("link: channel open failed")
)

// Channel is one open byte stream to a device. Implementations must
// unblock a pending Read when Close is called.
type Channel interface {
	io.ReadWriteCloser
}

// Device identifies one discovered channel endpoint.
type Device struct {
	Path string
}

// Opener locates and opens the physical channel a link runs on.
type Opener interface {
	// Discover returns the candidate device, or an error wrapping
	// ErrNoDevice when nothing is attached.
	Discover(ctx context.Context) (Device, error)
	// Open establishes the byte stream to the device with its transport
	// parameters fixed.
	Open(ctx context.Context, dev Device) (Channel, error)
}

// PermissionGate is consulted after discovery and before open when the
// host environment requires an access grant. Request may block until
// the grant resolves; ctx bounds the wait.
type PermissionGate interface {
	Request(ctx context.Context, dev Device) error
}

// AllowAll grants every permission request.
type AllowAll struct{}

func (AllowAll) Request(context.Context, Device) error { return nil }
