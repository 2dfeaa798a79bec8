package alert

import (
	"context"
	"log/slog"
	"math"
	"time"
)

const (
	toneFrequency = 880.0
	toneDuration  = 120 * time.Millisecond
	toneAmplitude = 0.3
)

// Speaker voices a short phrase through the normal synthesis and playback
// path, honouring half-duplex rules.
type Speaker interface {
	Say(ctx context.Context, text string) error
}

// ToneSink plays one pre-rendered PCM buffer on the speaker. The playback
// streamer implements it; routing tones through it keeps the tone inside the
// same session exclusion as reply playback, so a tone can never open the
// device while a reply is streaming.
type ToneSink interface {
	PlayBytes(pcm []byte) error
}

// AudioNotifier renders alerts audibly: payloads with a phrase are spoken,
// the rest get a short tone through the sink.
type AudioNotifier struct {
	sink       ToneSink
	speaker    Speaker
	sampleRate int
	tones      bool
	log        *slog.Logger
}

// NewAudioNotifier creates the notifier. speaker may be nil, in which case
// phrase payloads fall back to the tone. tones false silences the tone path
// entirely (alerts still log).
func NewAudioNotifier(sink ToneSink, speaker Speaker, sampleRate int, tones bool, log *slog.Logger) *AudioNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &AudioNotifier{
		sink:       sink,
		speaker:    speaker,
		sampleRate: sampleRate,
		tones:      tones,
		log:        log,
	}
}

var _ Notifier = (*AudioNotifier)(nil)

// Notify implements [Notifier].
func (n *AudioNotifier) Notify(ctx context.Context, p Payload) {
	if p.Phrase != "" && n.speaker != nil {
		if err := n.speaker.Say(ctx, p.Phrase); err != nil {
			n.log.Warn("spoken alert failed", "kind", p.Kind, "error", err)
		}
		return
	}
	if !n.tones || n.sink == nil {
		return
	}
	if err := n.sink.PlayBytes(tonePCM(toneFrequency, toneDuration, n.sampleRate)); err != nil {
		n.log.Warn("alert tone failed", "kind", p.Kind, "error", err)
	}
}

// tonePCM renders a sine tone as 16-bit little-endian mono PCM.
func tonePCM(freq float64, dur time.Duration, sampleRate int) []byte {
	samples := int(float64(sampleRate) * dur.Seconds())
	pcm := make([]byte, 0, samples*2)
	for i := range samples {
		v := toneAmplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
		s := int16(v * math.MaxInt16)
		pcm = append(pcm, byte(s), byte(s>>8))
	}
	return pcm
}
