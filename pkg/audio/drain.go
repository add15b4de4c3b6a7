package audio

// Drain empties ch until its producer closes it and returns how many values
// were thrown away. Abandoned speech streams and mic frame channels are
// drained so their producers can finish.
func Drain[T any](ch <-chan T) (n int) {
	for range ch {
		n++
	}
	return n
}
