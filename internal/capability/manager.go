package capability

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"

	"github.com/hpungsan/scribbly/internal/errors"
	"github.com/hpungsan/scribbly/internal/logger"
)

// ProgressFunc observes DownloadState changes during session construction.
type ProgressFunc func(DownloadState)

// InvokeOptions tunes a single Invoke call.
type InvokeOptions struct {
	OnProgress ProgressFunc
	Streaming  bool
}

// Manager owns the session and cached state of one capability.
// It is safe for concurrent use; overlapping EnsureSession calls share a
// single construction.
type Manager struct {
	desc    Descriptor
	backend Backend
	log     logger.Logger

	mu      sync.Mutex
	session Session
	state   DownloadState
	gen     uint64

	// watchers receive progress from the shared construction, one entry per
	// waiting caller.
	watchers  map[uint64]ProgressFunc
	nextWatch uint64

	flight singleflight.Group
}

// NewManager creates a Manager for d backed by b.
func NewManager(d Descriptor, b Backend, log logger.Logger) *Manager {
	if b == nil {
		b = UnavailableBackend{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{
		desc:    d,
		backend: b,
		log:     log.With("capability", d.Name),
		state:   Unavailable(""),

		watchers: make(map[uint64]ProgressFunc),
	}
}

// Name returns the capability name.
func (m *Manager) Name() string { return m.desc.Name }

// IsSupported reports whether a real backend is present. It never touches the
// backend.
func (m *Manager) IsSupported() bool {
	_, stub := m.backend.(UnavailableBackend)
	return !stub
}

// State returns the last cached state.
func (m *Manager) State() DownloadState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s DownloadState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Availability checks the backend and caches the mapped state.
// It never fails: errors map to unavailable with the error text as reason.
func (m *Manager) Availability(ctx context.Context) DownloadState {
	if !m.IsSupported() {
		st := Unavailable(m.desc.NotDetectedReason)
		m.setState(st)
		return st
	}

	res, err := m.backend.Availability(ctx)
	var st DownloadState
	switch {
	case err != nil:
		reason := err.Error()
		if reason == "" {
			reason = "availability check failed"
		}
		st = Unavailable(reason)
	case res == nil:
		st = Unavailable("No availability payload")
	default:
		st = MapAvailability(*res)
	}

	m.setState(st)
	return st
}

// MapAvailability maps a raw backend answer onto a DownloadState.
func MapAvailability(r AvailabilityResult) DownloadState {
	switch r.Availability {
	case Readily:
		return Available()
	case AfterDownload:
		return Downloadable(r.Reason)
	case NotAvailable:
		return Unavailable(r.Reason)
	default:
		if r.Reason != "" {
			return Unavailable(r.Reason)
		}
		return Unavailable(fmt.Sprintf("unexpected availability %q", r.Availability))
	}
}

// EnsureSession returns the cached session, constructing one if needed.
// It returns (nil, nil) when the capability is unavailable.
//
// Construction is shared by overlapping callers and is not tied to any one
// caller's ctx: a caller whose ctx ends gets CANCELLED while the others keep
// waiting. Every waiting caller's onProgress sees the download progress.
func (m *Manager) EnsureSession(ctx context.Context, onProgress ProgressFunc) (Session, error) {
	m.mu.Lock()
	if s := m.session; s != nil {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	if !m.IsSupported() {
		m.setState(Unavailable(m.desc.NotDetectedReason))
		return nil, nil
	}

	unwatch := m.watch(onProgress)
	defer unwatch()

	ch := m.flight.DoChan(m.desc.Name, func() (any, error) {
		return m.construct(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, errors.NewCancelled(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, m.classify(ctx, res.Err)
		}
		s, _ := res.Val.(Session)
		return s, nil
	}
}

// watch registers fn for construction progress until the returned func runs.
func (m *Manager) watch(fn ProgressFunc) func() {
	if fn == nil {
		return func() {}
	}
	m.mu.Lock()
	id := m.nextWatch
	m.nextWatch++
	m.watchers[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()
	}
}

// notify sends st to every waiting caller.
func (m *Manager) notify(st DownloadState) {
	m.mu.Lock()
	fns := make([]ProgressFunc, 0, len(m.watchers))
	for _, fn := range m.watchers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

func (m *Manager) construct(ctx context.Context) (Session, error) {
	m.mu.Lock()
	if s := m.session; s != nil {
		m.mu.Unlock()
		return s, nil
	}
	gen := m.gen
	m.mu.Unlock()

	st := m.Availability(ctx)
	if st.Status == StatusUnavailable {
		return nil, nil
	}

	var monitor Monitor
	if st.Status != StatusAvailable {
		monitor = func(event string, p Progress) {
			if event != EventDownloadProgress {
				return
			}
			next := Downloading(p.Completed, p.Total)
			m.setState(next)
			m.notify(next)
		}
	}

	s, err := m.backend.Create(ctx, monitor)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, nil
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		m.dispose(s)
		return nil, errors.NewCapabilityUnavailable(m.desc.Name, m.desc.Name+" was reset during session construction")
	}
	m.session = s
	m.state = Available()
	m.mu.Unlock()

	m.log.Info("session ready")
	m.notify(Available())
	return s, nil
}

// Invoke runs input through the capability and returns the trimmed result.
func (m *Manager) Invoke(ctx context.Context, input Input, opts InvokeOptions) (string, error) {
	s, err := m.EnsureSession(ctx, opts.OnProgress)
	if err != nil {
		return "", err
	}
	if s == nil {
		return "", errors.NewCapabilityUnavailable(m.desc.Name, m.desc.UnavailableMessage)
	}

	req, err := m.desc.BuildRequest(input)
	if err != nil {
		return "", errors.NewInternal(err)
	}

	if ss, ok := s.(StreamingSession); ok && opts.Streaming {
		var b strings.Builder
		err := ss.Stream(ctx, req, func(chunk []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			b.WriteString(m.extract(chunk))
			return nil
		})
		if err != nil {
			return "", m.classify(ctx, err)
		}
		return strings.TrimSpace(b.String()), nil
	}

	out, err := s.Invoke(ctx, req)
	if err != nil {
		return "", m.classify(ctx, err)
	}
	return strings.TrimSpace(m.extract(out)), nil
}

// extract reads the result text from a session response: a JSON string, an
// object holding the descriptor's result path, or bare text.
func (m *Manager) extract(raw []byte) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	if !gjson.ValidBytes(raw) {
		return string(raw)
	}
	r := gjson.ParseBytes(raw)
	switch {
	case r.Type == gjson.String:
		return r.String()
	case r.IsObject():
		return r.Get(m.desc.ResultPath).String()
	default:
		return ""
	}
}

// classify turns context errors into CANCELLED and passes the rest through.
func (m *Manager) classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.NewCancelled(ctxErr)
	}
	return err
}

// Reset disposes the cached session and marks the capability unavailable.
func (m *Manager) Reset() {
	m.mu.Lock()
	s := m.session
	m.session = nil
	m.state = Unavailable("")
	m.gen++
	m.mu.Unlock()

	m.flight.Forget(m.desc.Name)
	if s != nil {
		m.dispose(s)
	}
}

func (m *Manager) dispose(s Session) {
	if err := s.Dispose(); err != nil {
		m.log.Debug("dispose failed", "error", err)
	}
}
