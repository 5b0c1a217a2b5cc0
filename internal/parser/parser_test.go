package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlainTextEmail(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: Test Subject",
		"Message-Id: <test123@example.com>",
		"Content-Type: text/plain; charset=UTF-8",
		"",
		"Hello, this is a plain text email.",
	}, "\r\n"))

	msg, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "sender@example.com", msg.From)
	assert.Equal(t, []string{"recipient@example.com"}, msg.To)
	assert.Equal(t, "Test Subject", msg.Subject)
	assert.Equal(t, "<test123@example.com>", msg.MessageID)
	require.Len(t, msg.Parts, 1)
	assert.Empty(t, msg.Parts[0].Container)
	assert.Equal(t, "UTF-8", msg.Parts[0].Charset)
	assert.Equal(t, "Hello, this is a plain text email.", msg.TextBody())
	assert.Empty(t, msg.HTMLBody())
	assert.Empty(t, msg.Resources())
}

func TestParseQuotedPrintableSinglePart(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: =?UTF-8?q?Gr=C3=BC=C3=9Fe?=",
		"Content-Type: text/plain; charset=UTF-8",
		"Content-Transfer-Encoding: quoted-printable",
		"",
		"Gr=C3=BC=C3=9Fe aus K=C3=B6ln",
	}, "\r\n"))

	msg, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "Grüße", msg.Subject)
	assert.Equal(t, "Grüße aus Köln", msg.TextBody())
}

func TestParseMultipartTextAndHTML(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: alice@example.com, bob@example.com",
		"Reply-To: support@example.com",
		"Subject: Multipart Test",
		"Content-Type: multipart/alternative; boundary=boundary123",
		"",
		"--boundary123",
		"Content-Type: text/plain",
		"",
		"Plain text body",
		"--boundary123",
		"Content-Type: text/html",
		"",
		"<html><body><p>HTML body</p></body></html>",
		"--boundary123--",
	}, "\r\n"))

	msg, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, []string{"alice@example.com", "bob@example.com"}, msg.To)
	assert.Equal(t, "support@example.com", msg.ReplyTo)
	require.Len(t, msg.Parts, 2)
	assert.Equal(t, "multipart/alternative", msg.Parts[0].Container)
	assert.Equal(t, "text/plain", msg.Parts[0].ContentType)
	assert.Equal(t, "text/html", msg.Parts[1].ContentType)
	assert.Equal(t, "Plain text body", msg.TextBody())
	assert.Equal(t, "<html><body><p>HTML body</p></body></html>", msg.HTMLBody())
}

func TestParseEmailWithAttachments(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: With Attachment",
		"Content-Type: multipart/mixed; boundary=mixedboundary",
		"",
		"--mixedboundary",
		"Content-Type: text/plain",
		"",
		"See attached.",
		"--mixedboundary",
		"Content-Type: application/pdf; name=\"report.pdf\"",
		"Content-Disposition: attachment; filename=\"report.pdf\"",
		"Content-Transfer-Encoding: base64",
		"",
		"SGVsbG8gV29ybGQ=",
		"--mixedboundary--",
	}, "\r\n"))

	msg, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "See attached.", msg.TextBody())
	resources := msg.Resources()
	require.Len(t, resources, 1)
	assert.Equal(t, "report.pdf", resources[0].Filename)
	assert.Equal(t, "application/pdf", resources[0].ContentType)
	assert.Equal(t, "attachment", resources[0].Disposition)
	assert.Equal(t, "Hello World", string(resources[0].Content))
}

func TestParseInlineResourceWithContentID(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Content-Type: multipart/related; boundary=rel",
		"",
		"--rel",
		"Content-Type: text/html",
		"",
		"<img src=\"cid:logo.png\">",
		"--rel",
		"Content-Type: image/png; name=\"logo.png\"",
		"Content-Disposition: inline; filename=\"logo.png\"",
		"Content-Id: <logo.png>",
		"Content-Transfer-Encoding: base64",
		"",
		"iVBORw0KGgo=",
		"--rel--",
	}, "\r\n"))

	msg, err := Parse(raw)
	require.NoError(t, err)

	resources := msg.Resources()
	require.Len(t, resources, 1)
	assert.Equal(t, "inline", resources[0].Disposition)
	assert.Equal(t, "logo.png", resources[0].ContentID)
	assert.Equal(t, "\x89PNG\r\n\x1a\n", string(resources[0].Content))
}

func TestParseMalformedMIME(t *testing.T) {
	t.Parallel()

	t.Run("garbage input", func(t *testing.T) {
		t.Parallel()
		_, err := Parse([]byte("not a valid email at all\x00\x01\x02"))
		assert.Error(t, err)
	})

	t.Run("unparseable content type", func(t *testing.T) {
		t.Parallel()
		raw := []byte(strings.Join([]string{
			"From: sender@example.com",
			"Content-Type: ;;;invalid",
			"",
			"body text",
		}, "\r\n"))

		msg, err := Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, "body text", msg.TextBody())
	})

	t.Run("multipart missing boundary", func(t *testing.T) {
		t.Parallel()
		raw := []byte(strings.Join([]string{
			"From: sender@example.com",
			"Content-Type: multipart/mixed",
			"",
			"body",
		}, "\r\n"))

		_, err := Parse(raw)
		assert.Error(t, err)
	})
}

func TestParseRawHeaders(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"X-Custom-Header: custom-value",
		"Date: Mon, 02 Jan 2006 15:04:05 +0000",
		"Content-Type: text/plain",
		"",
		"Body",
	}, "\r\n"))

	msg, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"custom-value"}, msg.RawHeaders["X-Custom-Header"])
	assert.Equal(t, "Mon, 02 Jan 2006 15:04:05 +0000", msg.Date)
}

func TestParseNestedMultipart(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: Nested",
		"Content-Type: multipart/mixed; boundary=outer",
		"",
		"--outer",
		"Content-Type: multipart/alternative; boundary=inner",
		"",
		"--inner",
		"Content-Type: text/plain",
		"",
		"Plain",
		"--inner",
		"Content-Type: text/html",
		"",
		"<p>HTML</p>",
		"--inner--",
		"--outer",
		"Content-Type: application/octet-stream; name=\"data.bin\"",
		"Content-Disposition: attachment; filename=\"data.bin\"",
		"Content-Transfer-Encoding: base64",
		"",
		"AQID",
		"--outer--",
	}, "\r\n"))

	msg, err := Parse(raw)
	require.NoError(t, err)

	require.Len(t, msg.Parts, 3)
	assert.Equal(t, "multipart/alternative", msg.Parts[0].Container)
	assert.Equal(t, "multipart/alternative", msg.Parts[1].Container)
	assert.Equal(t, "multipart/mixed", msg.Parts[2].Container)
	assert.Equal(t, "Plain", msg.TextBody())
	assert.Equal(t, "<p>HTML</p>", msg.HTMLBody())
	require.Len(t, msg.Resources(), 1)
	assert.Equal(t, []byte{1, 2, 3}, msg.Resources()[0].Content)
}
