package email

// Received is a parsed inbound message as seen by the capture relay.
type Received struct {
	From       string
	To         []string
	ReplyTo    string
	Subject    string
	Date       string
	MessageID  string
	RawHeaders map[string][]string

	// Parts holds the leaf parts in document order, nested multiparts flattened.
	Parts []ReceivedPart
}

// ReceivedPart is a leaf MIME part of a Received message.
type ReceivedPart struct {
	// Container is the media type of the enclosing multipart, empty for single-part messages.
	Container   string
	ContentType string
	Charset     string
	Disposition string
	Filename    string
	ContentID   string
	Content     []byte
}

// TextBody returns the first non-attachment text/plain part.
func (r *Received) TextBody() string {
	return r.firstBody("text/plain")
}

// HTMLBody returns the first non-attachment text/html part.
func (r *Received) HTMLBody() string {
	return r.firstBody("text/html")
}

// Resources returns the parts that carry a filename.
func (r *Received) Resources() []ReceivedPart {
	var out []ReceivedPart
	for _, p := range r.Parts {
		if p.Filename != "" {
			out = append(out, p)
		}
	}
	return out
}

func (r *Received) firstBody(mediaType string) string {
	for _, p := range r.Parts {
		if p.ContentType == mediaType && p.Filename == "" {
			return string(p.Content)
		}
	}
	return ""
}
