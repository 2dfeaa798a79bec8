package state

import (
	"sync"
	"testing"
)

func TestZeroValue(t *testing.T) {
	f := New()
	if f.Stopping() {
		t.Error("Stopping() = true on fresh Flags")
	}
	if f.TTSActive() {
		t.Error("TTSActive() = true on fresh Flags")
	}
	if f.MicOpen() {
		t.Error("MicOpen() = true on fresh Flags")
	}
}

func TestSetAndClear(t *testing.T) {
	f := New()

	f.SetTTSActive(true)
	if !f.TTSActive() {
		t.Error("TTSActive() = false after set")
	}
	f.SetTTSActive(false)
	if f.TTSActive() {
		t.Error("TTSActive() = true after clear")
	}

	f.SetMicOpen(true)
	if !f.MicOpen() {
		t.Error("MicOpen() = false after set")
	}

	f.RequestStop()
	if !f.Stopping() {
		t.Error("Stopping() = false after RequestStop")
	}
}

func TestConcurrentReaders(t *testing.T) {
	f := New()
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 1000 {
				f.Stopping()
				f.TTSActive()
				f.MicOpen()
			}
		}()
	}
	for range 100 {
		f.SetTTSActive(true)
		f.SetTTSActive(false)
	}
	f.RequestStop()
	wg.Wait()
	if !f.Stopping() {
		t.Error("Stopping() = false after concurrent use")
	}
}
