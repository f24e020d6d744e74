// Package capability manages the lifecycle of on-device model capabilities:
// availability probing, download progress, lazy session creation and reset.
package capability

import (
	"encoding/json"
	"fmt"
)

// Status is the tag of a DownloadState.
type Status string

const (
	StatusUnavailable  Status = "unavailable"
	StatusDownloadable Status = "downloadable"
	StatusDownloading  Status = "downloading"
	StatusAvailable    Status = "available"
)

// DownloadState describes whether a capability's model is ready, needs a
// download, is downloading, or is unavailable. Reason applies to unavailable
// and downloadable; Completed and Total apply to downloading.
type DownloadState struct {
	Status    Status
	Reason    string
	Completed float64
	Total     *float64
}

// Unavailable returns an unavailable state with an optional reason.
func Unavailable(reason string) DownloadState {
	return DownloadState{Status: StatusUnavailable, Reason: reason}
}

// Downloadable returns a downloadable state with an optional reason.
func Downloadable(reason string) DownloadState {
	return DownloadState{Status: StatusDownloadable, Reason: reason}
}

// Downloading returns a downloading state. total may be nil when unknown.
func Downloading(completed float64, total *float64) DownloadState {
	return DownloadState{Status: StatusDownloading, Completed: completed, Total: total}
}

// Available returns the available state.
func Available() DownloadState {
	return DownloadState{Status: StatusAvailable}
}

type wireState struct {
	Status    Status   `json:"status"`
	Reason    string   `json:"reason,omitempty"`
	Completed *float64 `json:"completed,omitempty"`
	Total     *float64 `json:"total,omitempty"`
}

// MarshalJSON emits only the fields of the active variant.
func (s DownloadState) MarshalJSON() ([]byte, error) {
	w := wireState{Status: s.Status}
	switch s.Status {
	case StatusUnavailable, StatusDownloadable:
		w.Reason = s.Reason
	case StatusDownloading:
		completed := s.Completed
		w.Completed = &completed
		w.Total = s.Total
	case StatusAvailable:
	default:
		return nil, fmt.Errorf("unknown download status %q", s.Status)
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses a tagged state. Unknown tags decode as unavailable.
func (s *DownloadState) UnmarshalJSON(data []byte) error {
	var w wireState
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Status {
	case StatusUnavailable, StatusDownloadable:
		*s = DownloadState{Status: w.Status, Reason: w.Reason}
	case StatusDownloading:
		var completed float64
		if w.Completed != nil {
			completed = *w.Completed
		}
		*s = Downloading(completed, w.Total)
	case StatusAvailable:
		*s = Available()
	default:
		*s = Unavailable(fmt.Sprintf("unknown status %q", w.Status))
	}
	return nil
}

// Capability names.
const (
	NameSummarizer = "summarizer"
	NamePrompt     = "prompt"
	NameWriter     = "writer"
	NameRewriter   = "rewriter"
)

// Names lists every capability in snapshot order.
var Names = []string{NameSummarizer, NamePrompt, NameWriter, NameRewriter}

// Snapshot maps each capability to its current DownloadState.
type Snapshot struct {
	Summarizer DownloadState `json:"summarizer"`
	Prompt     DownloadState `json:"prompt"`
	Writer     DownloadState `json:"writer"`
	Rewriter   DownloadState `json:"rewriter"`
}

// DefaultSnapshot reports every capability as unavailable.
func DefaultSnapshot() Snapshot {
	return Snapshot{
		Summarizer: Unavailable(""),
		Prompt:     Unavailable(""),
		Writer:     Unavailable(""),
		Rewriter:   Unavailable(""),
	}
}

// Get returns the state for name.
func (s Snapshot) Get(name string) (DownloadState, bool) {
	switch name {
	case NameSummarizer:
		return s.Summarizer, true
	case NamePrompt:
		return s.Prompt, true
	case NameWriter:
		return s.Writer, true
	case NameRewriter:
		return s.Rewriter, true
	}
	return DownloadState{}, false
}

// With returns a copy of s with name set to state. Unknown names are ignored.
func (s Snapshot) With(name string, state DownloadState) Snapshot {
	switch name {
	case NameSummarizer:
		s.Summarizer = state
	case NamePrompt:
		s.Prompt = state
	case NameWriter:
		s.Writer = state
	case NameRewriter:
		s.Rewriter = state
	}
	return s
}
