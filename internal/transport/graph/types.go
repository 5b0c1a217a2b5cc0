package graph

import (
	"encoding/base64"

	"github.com/shineum/themed-mailer/internal/email"
)

// sendMailRequest is the top-level request body for the Graph API sendMail endpoint.
type sendMailRequest struct {
	Message         sendMailMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

type sendMailMessage struct {
	Subject      string            `json:"subject"`
	Body         messageBody       `json:"body"`
	From         *recipient        `json:"from,omitempty"`
	ToRecipients []recipient       `json:"toRecipients"`
	ReplyTo      []recipient       `json:"replyTo,omitempty"`
	Attachments  []graphAttachment `json:"attachments,omitempty"`
}

type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type emailAddress struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

type graphAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
	IsInline     bool   `json:"isInline,omitempty"`
	ContentID    string `json:"contentId,omitempty"`
}

// graphErrorResponse represents an error response from the Graph API.
type graphErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// buildSendMailRequest converts msg into a sendMail request body. Graph
// carries a single body, so HTML wins over text when both are present.
func buildSendMailRequest(msg *email.Message) *sendMailRequest {
	body := messageBody{ContentType: "text"}
	if text, ok := msg.Body.Text(); ok {
		body.Content = text
	}
	if html, ok := msg.Body.HTML(); ok {
		body.ContentType = "html"
		body.Content = html
	}

	resources := msg.Body.Resources()
	attachments := make([]graphAttachment, 0, len(resources))
	for _, res := range resources {
		att := graphAttachment{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         res.Filename,
			ContentType:  res.ContentType,
			ContentBytes: base64.StdEncoding.EncodeToString(res.Content),
		}
		if res.Disposition == email.DispositionInline {
			att.IsInline = true
			att.ContentID = res.Filename
		}
		attachments = append(attachments, att)
	}

	return &sendMailRequest{
		Message: sendMailMessage{
			Subject: msg.Subject,
			Body:    body,
			From: &recipient{EmailAddress: emailAddress{
				Name:    msg.From.Name,
				Address: msg.From.Address,
			}},
			ToRecipients: []recipient{{EmailAddress: emailAddress{Address: msg.Recipient.Address()}}},
			ReplyTo: []recipient{{EmailAddress: emailAddress{
				Name:    msg.ReplyTo.Name,
				Address: msg.ReplyTo.Address,
			}}},
			Attachments: attachments,
		},
		SaveToSentItems: false,
	}
}
