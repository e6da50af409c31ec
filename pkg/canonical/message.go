package canonical

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// PartKind tags the variant held by a Part.
type PartKind int

const (
	PartText PartKind = iota
	PartImage
	PartFile
)

func (k PartKind) String() string {
	switch k {
	case PartText:
		return "text"
	case PartImage:
		return "image"
	case PartFile:
		return "file"
	}
	return "unknown"
}

// Part is one piece of message content. Images and files carry either inline
// bytes or a URI the adapter must fetch.
type Part struct {
	kind PartKind
	text string
	uri  string
	data []byte
	mime string
	name string
}

// Text returns a text part.
func Text(s string) Part {
	return Part{kind: PartText, text: s}
}

// ImageURL returns an image part referenced by URI (http(s) or data:).
func ImageURL(uri, mime string) Part {
	return Part{kind: PartImage, uri: uri, mime: mime}
}

// ImageBytes returns an image part with inline content.
func ImageBytes(data []byte, mime string) Part {
	return Part{kind: PartImage, data: data, mime: mime}
}

// File returns a file part with inline content.
func File(name string, data []byte, mime string) Part {
	return Part{kind: PartFile, name: name, data: data, mime: mime}
}

// FileURL returns a file part referenced by URI.
func FileURL(name, uri, mime string) Part {
	return Part{kind: PartFile, name: name, uri: uri, mime: mime}
}

func (p Part) Kind() PartKind { return p.kind }
func (p Part) Text() string   { return p.text }
func (p Part) URI() string    { return p.uri }
func (p Part) MIME() string   { return p.mime }
func (p Part) Name() string   { return p.name }

// Data returns the inline content. Callers must not modify the slice.
func (p Part) Data() []byte { return p.data }

// Inline reports whether the part carries its content directly.
func (p Part) Inline() bool { return p.data != nil }

// Message is a role-tagged list of parts.
type Message struct {
	Role  Role
	Parts []Part
}

// NewMessage builds a message from parts.
func NewMessage(role Role, parts ...Part) Message {
	return Message{Role: role, Parts: parts}
}

// TextContent concatenates the text parts of m.
func (m Message) TextContent() string {
	if len(m.Parts) == 1 && m.Parts[0].kind == PartText {
		return m.Parts[0].text
	}
	var out []byte
	for _, p := range m.Parts {
		if p.kind == PartText {
			if len(out) > 0 {
				out = append(out, '\n')
			}
			out = append(out, p.text...)
		}
	}
	return string(out)
}

// HasAttachments reports whether m carries image or file parts.
func (m Message) HasAttachments() bool {
	for _, p := range m.Parts {
		if p.kind != PartText {
			return true
		}
	}
	return false
}

// Request is a canonical chat-completion request.
type Request struct {
	Model       string
	Messages    []Message
	Stream      bool
	Temperature *float64
	TopP        *float64
}

// SystemPrompt joins the text of every system message.
func (r *Request) SystemPrompt() string {
	var out string
	for _, m := range r.Messages {
		if m.Role != RoleSystem {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += m.TextContent()
	}
	return out
}

// LastUserText returns the text of the final user message.
func (r *Request) LastUserText() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].TextContent()
		}
	}
	return ""
}
