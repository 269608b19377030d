// Package sink defines the abstract "append one line" contract the
// interceptor writes reconstructed SQL lines through, plus two concrete
// implementations: a rotating text-file log (the reference sink from
// spec.md §6) and a plain stdout writer.
package sink

// Sink appends one line of text, synchronously and durably: the
// implementation may buffer internally but must flush before returning.
// AppendLine may fail; callers are expected to swallow the error — a
// logging failure must never interrupt the proxy's forwarding path
// (spec.md §4.3, §7).
type Sink interface {
	AppendLine(text string) error
}
