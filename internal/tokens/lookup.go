// Package tokens implements the messages-file token-lookup collaborator
// spec.md §6 names ("translates an opaque error token into a
// human-readable string") plus a small last-sent bookkeeping helper
// shared by the receiver and sender state machines (spec.md §4.1/§4.2:
// "each operation remembers the kind of the last message it sent, so it
// can reject a reply whose kind doesn't match").
package tokens

// StaticLookup is a default TokenLookup backed by a fixed map, standing
// in for a real platform messages file.
type StaticLookup struct {
	messages map[string]string
}

// NewStaticLookup builds a StaticLookup seeded with this module's own
// error tokens (spec.md §7) plus any extra entries supplied by the
// caller, later entries overriding earlier ones.
func NewStaticLookup(extra map[string]string) *StaticLookup {
	m := make(map[string]string, len(defaultMessages)+len(extra))
	for k, v := range defaultMessages {
		m[k] = v
	}
	for k, v := range extra {
		m[k] = v
	}
	return &StaticLookup{messages: m}
}

// Lookup satisfies interfaces.TokenLookup.
func (s *StaticLookup) Lookup(token string) (string, bool) {
	msg, ok := s.messages[token]
	return msg, ok
}

var defaultMessages = map[string]string{
	"OutOfMemory":   "Not enough memory to complete the transfer",
	"OpenInFail":    "Unable to open the file for reading",
	"ReadFail":      "Error while reading the file",
	"OpenOutFail":   "Unable to open the file for writing",
	"WriteFail":     "Error while writing the file",
	"FileNotFound":  "The requested file could not be found",
	"IsADirectory":  "The requested path is a directory",
	"ReceiverDied":  "The receiving task no longer exists",
	"BufferOverflow": "The other task wrote past the advertised buffer window",
	"TimedOut":      "The other task did not reply in time",
	"HostError":     "The host reported an unexpected error",
	"Protocol":      "A protocol message arrived out of sequence",
}

// LastSent records which message kind and ref an operation most
// recently sent, so a reply can be validated against it before being
// accepted (spec.md §4.1/§4.2's "ignore replies that don't match the
// expected precursor").
type LastSent struct {
	Kind string
	Ref  uint32
}

// Expects reports whether an incoming reply's (kind, yourRef) pair
// matches what this operation last sent.
func (l LastSent) Expects(kind string, yourRef uint32) bool {
	return l.Kind == kind && l.Ref != 0 && l.Ref == yourRef
}

// Set updates the record to reflect a newly sent message.
func (l *LastSent) Set(kind string, ref uint32) {
	l.Kind = kind
	l.Ref = ref
}

// Clear resets the record, e.g. once an operation finishes.
func (l *LastSent) Clear() {
	l.Kind = ""
	l.Ref = 0
}
