// Package camera reads the artifacts that the capture process leaves on disk:
// the most recent camera frame, and the out-of-band change signal written by
// the motion sensor collaborator.
package camera

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Frame is one camera image, as captured by the external capture process.
type Frame struct {
	Data       []byte
	CapturedAt time.Time
}

// Source watches a single frame file. The capture process overwrites the file
// in place, so the file's modification time is our "new frame" detector.
type Source struct {
	path        string
	lastModTime time.Time
}

func NewSource(framePath string) *Source {
	return &Source{
		path: framePath,
	}
}

// LatestFrameIfNewer returns the current frame if its modification time has
// advanced since the last frame we returned, or nil if the frame on disk is
// the one we've already seen. This mirrors the at-most-one-in-flight contract
// of the pipeline: intermediate frames that we never observe are simply lost.
func (s *Source) LatestFrameIfNewer() (*Frame, error) {
	st, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			// The capture process hasn't written anything yet.
			return nil, nil
		}
		return nil, fmt.Errorf("stat frame %v: %w", s.path, err)
	}
	if !st.ModTime().After(s.lastModTime) {
		return nil, nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read frame %v: %w", s.path, err)
	}
	s.lastModTime = st.ModTime()
	return &Frame{
		Data:       data,
		CapturedAt: st.ModTime(),
	}, nil
}

// ChangeSignal is the record that the motion sensor collaborator writes when
// it believes the scene changed. It's ephemeral: we read it fresh every cycle
// and an absent file means no signal.
type ChangeSignal struct {
	Significant bool            `json:"significant_change"`
	Detail      json.RawMessage `json:"detail,omitempty"`
}

// SignalFile reads the change signal from a fixed path.
type SignalFile struct {
	Path string
}

func (s *SignalFile) Read() (ChangeSignal, error) {
	return ReadChangeSignal(s.Path)
}

// ReadChangeSignal reads the signal file. A missing file is not an error, it
// just means no collaborator has anything to say. A malformed file is an
// error, because it usually means the collaborator and us disagree on the
// format, and that's worth surfacing.
func ReadChangeSignal(path string) (ChangeSignal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ChangeSignal{}, nil
		}
		return ChangeSignal{}, fmt.Errorf("read change signal %v: %w", path, err)
	}
	sig := ChangeSignal{}
	if err := json.Unmarshal(data, &sig); err != nil {
		return ChangeSignal{}, fmt.Errorf("parse change signal %v: %w", path, err)
	}
	return sig, nil
}
