// Package email defines the outgoing message model shared by the builder and the transports.
package email

import (
	"net/mail"
	"strings"
	"time"
)

// Content types of the two body alternatives.
const (
	ContentTypeText = "text/plain; charset=UTF-8"
	ContentTypeHTML = "text/html; charset=UTF-8"
)

// Disposition controls how a resource part is presented to the reader.
type Disposition string

const (
	// DispositionAttachment presents the resource as a downloadable file.
	DispositionAttachment Disposition = "attachment"

	// DispositionInline embeds the resource with a Content-ID equal to its filename,
	// so HTML bodies can reference it as cid:<filename>.
	DispositionInline Disposition = "inline"
)

// ParseDisposition maps a configuration value to a Disposition.
// Unknown or empty values select DispositionAttachment.
func ParseDisposition(s string) Disposition {
	if strings.EqualFold(strings.TrimSpace(s), string(DispositionInline)) {
		return DispositionInline
	}
	return DispositionAttachment
}

// Recipient is a validated destination address.
type Recipient struct {
	address string
}

// NewRecipient validates addr and returns it as a Recipient.
func NewRecipient(addr string) (Recipient, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return Recipient{}, ErrInvalidRecipient
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return Recipient{}, &AddressError{Field: "recipient", Value: addr, Err: err}
	}
	return Recipient{address: parsed.Address}, nil
}

// Address returns the bare address, e.g. "user@example.com".
func (r Recipient) Address() string {
	return r.address
}

// IsZero reports whether r was never set.
func (r Recipient) IsZero() bool {
	return r.address == ""
}

// Resource is a named binary payload attached after the HTML alternative.
type Resource struct {
	Filename    string
	ContentType string
	Content     []byte
	Disposition Disposition
}

// PartKind identifies the role of a part in a BodyTree.
type PartKind int

const (
	PartText PartKind = iota
	PartHTML
	PartResource
)

func (k PartKind) String() string {
	switch k {
	case PartText:
		return "text"
	case PartHTML:
		return "html"
	case PartResource:
		return "resource"
	default:
		return "unknown"
	}
}

// Part is one entry of a BodyTree, in wire order.
type Part struct {
	Kind        PartKind
	ContentType string
	Body        string
	Resource    Resource
}

// BodyTree is the alternative container of a message: at most one text part,
// at most one HTML part, then the resource parts. A BodyTree never changes
// after NewBodyTree returns.
type BodyTree struct {
	parts []Part
}

// NewBodyTree assembles the parts in wire order. Resources are dropped when
// html is nil since they only travel alongside an HTML alternative.
func NewBodyTree(text, html *string, resources ...Resource) BodyTree {
	parts := make([]Part, 0, 2+len(resources))
	if text != nil {
		parts = append(parts, Part{Kind: PartText, ContentType: ContentTypeText, Body: *text})
	}
	if html != nil {
		parts = append(parts, Part{Kind: PartHTML, ContentType: ContentTypeHTML, Body: *html})
		for _, res := range resources {
			if res.Disposition == "" {
				res.Disposition = DispositionAttachment
			}
			parts = append(parts, Part{Kind: PartResource, ContentType: res.ContentType, Resource: res})
		}
	}
	return BodyTree{parts: parts}
}

// Parts returns a copy of the parts in wire order.
func (b BodyTree) Parts() []Part {
	out := make([]Part, len(b.parts))
	copy(out, b.parts)
	return out
}

// Len returns the number of parts.
func (b BodyTree) Len() int {
	return len(b.parts)
}

// Text returns the plain-text alternative, if any.
func (b BodyTree) Text() (string, bool) {
	return b.body(PartText)
}

// HTML returns the HTML alternative, if any.
func (b BodyTree) HTML() (string, bool) {
	return b.body(PartHTML)
}

// Resources returns the resource parts in attachment order.
func (b BodyTree) Resources() []Resource {
	var out []Resource
	for _, p := range b.parts {
		if p.Kind == PartResource {
			out = append(out, p.Resource)
		}
	}
	return out
}

// IsEmpty reports whether the tree holds no parts at all.
func (b BodyTree) IsEmpty() bool {
	return len(b.parts) == 0
}

func (b BodyTree) body(kind PartKind) (string, bool) {
	for _, p := range b.parts {
		if p.Kind == kind {
			return p.Body, true
		}
	}
	return "", false
}

// AttachmentResult records the outcome of one attachment attempt.
// Err is nil when the resource was attached; otherwise it holds a *ResourceError.
type AttachmentResult struct {
	Name string
	Err  error
}

// Attached reports whether the resource made it into the body tree.
func (r AttachmentResult) Attached() bool {
	return r.Err == nil
}

// Message is the assembled envelope handed to a transport.
type Message struct {
	From         mail.Address
	ReplyTo      mail.Address
	EnvelopeFrom string
	Recipient    Recipient
	Subject      string

	// Date is stamped by the transport at hand-off when left zero.
	Date time.Time

	Body        BodyTree
	Attachments []AttachmentResult
}

// Skipped returns the attachment attempts that did not make it into the body.
func (m *Message) Skipped() []AttachmentResult {
	var out []AttachmentResult
	for _, r := range m.Attachments {
		if !r.Attached() {
			out = append(out, r)
		}
	}
	return out
}

// SentAt returns the Date header value for a hand-off at now.
func (m *Message) SentAt(now time.Time) time.Time {
	if m.Date.IsZero() {
		return now
	}
	return m.Date
}
