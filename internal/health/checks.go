package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/lumora/murmel/internal/backend"
	"github.com/lumora/murmel/pkg/audio"
)

// OnlineReporter reports whether the network uplink is currently usable.
// *alert.NetworkWatcher satisfies it.
type OnlineReporter interface {
	Online() bool
}

// ProfileFetcher is the slice of the fleet client the backend check needs.
type ProfileFetcher interface {
	FetchDeviceProfile(ctx context.Context) (*backend.DeviceProfile, error)
}

// NetworkOnline reports ready while the uplink probe succeeds.
func NetworkOnline(w OnlineReporter) Check {
	return Check{
		Name: "network",
		Probe: func(context.Context) error {
			if !w.Online() {
				return errors.New("uplink offline")
			}
			return nil
		},
	}
}

// BackendReachable reports ready when the fleet backend answers a profile
// fetch within the check timeout.
func BackendReachable(c ProfileFetcher) Check {
	return Check{
		Name: "backend",
		Probe: func(ctx context.Context) error {
			if _, err := c.FetchDeviceProfile(ctx); err != nil {
				return fmt.Errorf("profile fetch: %w", err)
			}
			return nil
		},
	}
}

// AudioDevice reports ready when an output stream can be opened. The stream
// is closed immediately; nothing is played.
func AudioDevice(dev audio.Device, sampleRate int) Check {
	return Check{
		Name: "audio",
		Probe: func(context.Context) error {
			out, err := dev.OpenOutput(audio.StreamConfig{SampleRate: sampleRate, Channels: 1})
			if err != nil {
				return fmt.Errorf("open output: %w", err)
			}
			return out.Close()
		},
	}
}
