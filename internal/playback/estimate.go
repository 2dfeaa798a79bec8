package playback

import "time"

// DeadlinePolicy derives a playback deadline from reply text length. Spoken
// audio length scales with character count, so a fixed deadline would either
// cut off long replies or let short ones hang.
type DeadlinePolicy struct {
	// CharsPerSecond is the assumed speaking rate.
	CharsPerSecond float64

	// Overhead is a fixed allowance for synthesis and network startup.
	Overhead time.Duration

	// Min and Max clamp the result.
	Min, Max time.Duration
}

// Estimate returns the deadline for speaking text.
func (p DeadlinePolicy) Estimate(text string) time.Duration {
	cps := p.CharsPerSecond
	if cps <= 0 {
		cps = 9.0
	}
	d := time.Duration(float64(len(text))/cps*float64(time.Second)) + p.Overhead
	if p.Min > 0 && d < p.Min {
		d = p.Min
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}
