package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to release a synthesis producer after playback has been cancelled
// so it does not block forever on an abandoned chunk channel.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
