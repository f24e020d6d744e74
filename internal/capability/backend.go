package capability

import (
	"context"
	"errors"
)

// Raw availability values reported by a backend.
const (
	Readily       = "readily"
	AfterDownload = "after-download"
	NotAvailable  = "unavailable"
)

// EventDownloadProgress is the monitor event emitted while a model downloads.
const EventDownloadProgress = "downloadprogress"

// AvailabilityResult is a backend's raw availability answer.
type AvailabilityResult struct {
	Availability string `json:"availability"`
	Reason       string `json:"reason,omitempty"`
}

// Progress is the payload of a downloadprogress event.
type Progress struct {
	Completed float64  `json:"completed"`
	Total     *float64 `json:"total,omitempty"`
}

// Monitor receives events while a session is being constructed.
type Monitor func(event string, p Progress)

// Backend is the host side of one capability.
type Backend interface {
	// Availability reports whether the capability can produce a session.
	// A nil result with a nil error is treated as a malformed answer.
	Availability(ctx context.Context) (*AvailabilityResult, error)
	// Create constructs a session. monitor may be nil.
	Create(ctx context.Context, monitor Monitor) (Session, error)
}

// Session is a constructed model session. Requests and responses are JSON:
// a response is either a JSON string or an object holding the result text.
type Session interface {
	Invoke(ctx context.Context, req []byte) ([]byte, error)
	Dispose() error
}

// StreamingSession is a Session that can also yield incremental chunks, each
// shaped like an Invoke response.
type StreamingSession interface {
	Session
	Stream(ctx context.Context, req []byte, yield func(chunk []byte) error) error
}

// Provider yields the backend for each capability. It is selected once at
// startup, see Detect.
type Provider interface {
	Backend(d Descriptor) Backend
}

// ErrNotDetected is returned by the unavailable stub.
var ErrNotDetected = errors.New("capability backend not detected")

// UnavailableBackend is the stub used when no model host exists.
type UnavailableBackend struct{}

// Availability always reports unavailable.
func (UnavailableBackend) Availability(context.Context) (*AvailabilityResult, error) {
	return &AvailabilityResult{Availability: NotAvailable}, nil
}

// Create always fails.
func (UnavailableBackend) Create(context.Context, Monitor) (Session, error) {
	return nil, ErrNotDetected
}

type unavailableProvider struct{}

func (unavailableProvider) Backend(Descriptor) Backend { return UnavailableBackend{} }

// NoProvider hands out UnavailableBackend for every capability.
var NoProvider Provider = unavailableProvider{}
