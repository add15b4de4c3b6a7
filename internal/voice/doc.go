// Package voice coordinates dictation and read-aloud for one consuming view.
//
// [InputSession] wraps a single recognition turn: audio from an
// [audio.Source] is streamed to an [stt.Provider] and result batches are
// delivered as interim and final fragments. [OutputController] plays at most
// one synthesized utterance at a time through an [audio.Player]. A
// [Coordinator] owns one of each and guarantees that a view is never
// listening and speaking at the same time.
//
// Recognition and synthesis failures never escape as panics or stuck states:
// every capture ends with exactly one end callback and every utterance closes
// its done channel.
package voice
