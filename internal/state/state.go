// Package state holds the process-wide shared flags that cross the
// capture/playback/watcher boundaries.
//
// Exactly one Flags instance exists per process; it is constructed in main
// and injected into every component that needs it, so no package carries
// ambient global state. Each flag has a single writing component and many
// readers:
//
//   - stopRequested: set once by signal delivery, never cleared.
//   - ttsActive: owned by the playback streamer for the duration of a
//     playback session; the alert tone path reads it to avoid overlapping
//     the primary speech channel.
//   - micOpen: owned by the capture layer; set when the input device has
//     been opened successfully.
//
// Readers only rely on eventual visibility, never on update ordering.
package state

import "sync/atomic"

// Flags is the shared-state container. The zero value is ready to use.
type Flags struct {
	stopRequested atomic.Bool
	ttsActive     atomic.Bool
	micOpen       atomic.Bool
}

// New returns a fresh Flags container.
func New() *Flags { return &Flags{} }

// RequestStop sets the process-wide stop flag. It is never cleared.
func (f *Flags) RequestStop() { f.stopRequested.Store(true) }

// Stopping reports whether a stop has been requested.
func (f *Flags) Stopping() bool { return f.stopRequested.Load() }

// SetTTSActive marks the speaker as busy with a playback session.
func (f *Flags) SetTTSActive(v bool) { f.ttsActive.Store(v) }

// TTSActive reports whether a playback session currently owns the speaker.
func (f *Flags) TTSActive() bool { return f.ttsActive.Load() }

// SetMicOpen marks the input device as successfully opened.
func (f *Flags) SetMicOpen(v bool) { f.micOpen.Store(v) }

// MicOpen reports whether the input device is open.
func (f *Flags) MicOpen() bool { return f.micOpen.Load() }
