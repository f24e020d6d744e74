package capability

import (
	"context"
	"time"

	"github.com/hpungsan/scribbly/internal/logger"
)

// Detect picks the backend provider once at startup. A configured host that
// answers becomes the provider; anything else yields NoProvider.
func Detect(ctx context.Context, host *LocalHost, log logger.Logger) Provider {
	if host == nil || host.baseURL == "" {
		log.Info("no model host configured, on-device capabilities disabled")
		return NoProvider
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := host.Ping(ctx); err != nil {
		log.Warn("model host not detected", "host", host.baseURL, "error", err)
		return NoProvider
	}

	log.Info("model host detected", "host", host.baseURL, "model", host.model)
	return host
}

// Set holds one Manager per capability.
type Set struct {
	Summarizer *Manager
	Prompt     *Manager
	Writer     *Manager
	Rewriter   *Manager
}

// NewSet builds the four managers from p.
func NewSet(p Provider, log logger.Logger) *Set {
	if p == nil {
		p = NoProvider
	}
	return &Set{
		Summarizer: NewManager(Summarizer, p.Backend(Summarizer), log),
		Prompt:     NewManager(Prompt, p.Backend(Prompt), log),
		Writer:     NewManager(Writer, p.Backend(Writer), log),
		Rewriter:   NewManager(Rewriter, p.Backend(Rewriter), log),
	}
}

// All returns the managers in snapshot order.
func (s *Set) All() []*Manager {
	return []*Manager{s.Summarizer, s.Prompt, s.Writer, s.Rewriter}
}

// Get returns the manager for name, or nil.
func (s *Set) Get(name string) *Manager {
	for _, m := range s.All() {
		if m.Name() == name {
			return m
		}
	}
	return nil
}

// ResetAll resets every manager.
func (s *Set) ResetAll() {
	for _, m := range s.All() {
		m.Reset()
	}
}
