package mail

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	emmail "github.com/emersion/go-message/mail"

	"github.com/dropshiptriage/triage/internal/models"
)

// parsedBody is the outcome of walking a message's MIME tree: the best
// plain-text and HTML representations found, plus every non-inline part
// treated as an attachment.
type parsedBody struct {
	plain       string
	html        string
	attachments []models.Attachment
}

// parseMessage reads a raw RFC 5322 message and extracts text bodies and
// attachments, matching the shape InboundMessage needs. Multipart walking
// follows go-message's reader-of-parts idiom: read the next part, branch on
// its content type, repeat until io.EOF.
func parseMessage(raw []byte) (parsedBody, error) {
	r, err := emmail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return parsedBody{}, fmt.Errorf("reading message: %w", err)
	}

	var out parsedBody
	for {
		part, err := r.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return parsedBody{}, fmt.Errorf("reading message part: %w", err)
		}

		switch h := part.Header.(type) {
		case *emmail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				return parsedBody{}, fmt.Errorf("reading inline part: %w", err)
			}
			switch {
			case strings.EqualFold(contentType, "text/html"):
				out.html += string(body)
			default:
				out.plain += string(body)
			}

		case *emmail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				return parsedBody{}, fmt.Errorf("reading attachment part: %w", err)
			}
			if filename == "" {
				filename = "attachment"
			}
			out.attachments = append(out.attachments, models.Attachment{
				Filename: filename,
				MIMEType: contentType,
				Data:     body,
			})
		}
	}
	return out, nil
}
