package canonical

// DeltaKind tags the variant held by a Delta.
type DeltaKind int

const (
	DeltaText DeltaKind = iota
	DeltaAttachment
	DeltaDone
	DeltaError
)

func (k DeltaKind) String() string {
	switch k {
	case DeltaText:
		return "text"
	case DeltaAttachment:
		return "attachment"
	case DeltaDone:
		return "done"
	case DeltaError:
		return "error"
	}
	return "unknown"
}

// ErrorKind is the stable, machine-readable class of a failure.
type ErrorKind string

const (
	ErrModelNotSupported  ErrorKind = "model_not_supported"
	ErrAuthExpired        ErrorKind = "auth_expired"
	ErrAuthExhausted      ErrorKind = "auth_exhausted"
	ErrChallengeUnsolved  ErrorKind = "challenge_unsolved"
	ErrUpstream           ErrorKind = "upstream_error"
	ErrTransientUpstream  ErrorKind = "transient_upstream_failure"
	ErrAttachmentFailure  ErrorKind = "attachment_failure"
	ErrStreamParseAnomaly ErrorKind = "stream_parse_anomaly"
)

// FinishReasonStop is the finish reason of a naturally completed stream.
const FinishReasonStop = "stop"

// Delta is one element of the canonical output stream. A well-formed stream
// is zero or more Text/Attachment deltas followed by exactly one Done or
// Error.
type Delta struct {
	Kind DeltaKind

	// Text is the new content for DeltaText.
	Text string

	// Ref is a markdown reference for DeltaAttachment.
	Ref string

	// FinishReason is set on DeltaDone.
	FinishReason string

	// ErrKind, Status and Message describe a DeltaError.
	ErrKind ErrorKind
	Status  int
	Message string
}

// TextDelta returns a text delta.
func TextDelta(s string) Delta {
	return Delta{Kind: DeltaText, Text: s}
}

// AttachmentDelta returns an attachment delta carrying a markdown reference.
func AttachmentDelta(ref string) Delta {
	return Delta{Kind: DeltaAttachment, Ref: ref}
}

// Done returns the natural terminal delta.
func Done(reason string) Delta {
	if reason == "" {
		reason = FinishReasonStop
	}
	return Delta{Kind: DeltaDone, FinishReason: reason}
}

// Failure returns a terminal error delta.
func Failure(kind ErrorKind, status int, message string) Delta {
	return Delta{Kind: DeltaError, ErrKind: kind, Status: status, Message: message}
}

// IsTerminal reports whether d ends the stream.
func (d Delta) IsTerminal() bool {
	return d.Kind == DeltaDone || d.Kind == DeltaError
}

// Content returns the text a client should append for d.
func (d Delta) Content() string {
	switch d.Kind {
	case DeltaText:
		return d.Text
	case DeltaAttachment:
		return d.Ref
	}
	return ""
}
