package dispatch

import (
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/replydesk/internal/channels"
	"github.com/replydesk/internal/conversation"
	"github.com/replydesk/internal/directory"
)

var htmlTagPattern = regexp.MustCompile(`(?i)<\s*(p|br|div|span|img|a|ul|ol|li|table|h[1-6]|strong|em|b|i|blockquote)[\s>/]`)

// looksLikeHTML reports whether content already carries markup. Rendering
// such content again would double-escape it, so the renderer leaves it
// untouched.
func looksLikeHTML(content string) bool {
	return htmlTagPattern.MatchString(content)
}

// renderHTML converts message content to HTML for the email channel.
// Already-rich content passes through byte-identical.
func renderHTML(content string) string {
	if looksLikeHTML(content) {
		return content
	}
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(content), &buf); err != nil {
		// Fall back to escaped plain text rather than dropping the reply.
		return "<p>" + html.EscapeString(content) + "</p>"
	}
	return buf.String()
}

var (
	brPattern  = regexp.MustCompile(`(?i)<\s*br\s*/?\s*>`)
	pClosePat  = regexp.MustCompile(`(?i)</\s*(p|div|li|h[1-6]|blockquote|tr)\s*>`)
	anyTagPat  = regexp.MustCompile(`<[^>]*>`)
	multiNLPat = regexp.MustCompile(`\n{3,}`)
)

// renderPlainText flattens rich content for channels that only carry text
// (WhatsApp, webhooks).
func renderPlainText(content string) string {
	if !looksLikeHTML(content) {
		return strings.TrimSpace(content)
	}
	s := brPattern.ReplaceAllString(content, "\n")
	s = pClosePat.ReplaceAllString(s, "\n")
	s = anyTagPat.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = multiNLPat.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// buildSubject builds the reply subject for the case. Subjects that already
// carry a reply prefix are not stacked.
func buildSubject(caseSubject string) string {
	subject := strings.TrimSpace(caseSubject)
	if subject == "" {
		subject = "Your support request"
	}
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}

// appendAttachmentPreviews adds previews for attachments that are not
// already embedded in the body: images inline, everything else as a link
// with its size.
func appendAttachmentPreviews(body string, attachments []conversation.Attachment) string {
	var b strings.Builder
	b.WriteString(body)
	for _, att := range attachments {
		if att.URL == "" || strings.Contains(body, att.URL) {
			continue
		}
		if channels.ClassifyMIME(att.MimeType) == channels.MediaImage {
			fmt.Fprintf(&b, `<p><img src="%s" alt="%s" style="max-width:100%%"/></p>`,
				att.URL, html.EscapeString(att.FileName))
		} else {
			fmt.Fprintf(&b, `<p><a href="%s">%s</a> (%s)</p>`,
				att.URL, html.EscapeString(att.FileName), humanSize(att.SizeBytes))
		}
	}
	return b.String()
}

// appendSignature appends the agent's signature block when the agent has
// signatures enabled.
func appendSignature(body string, agent *directory.Agent) string {
	if agent == nil || !agent.SignatureEnabled {
		return body
	}
	var b strings.Builder
	b.WriteString(body)
	if agent.SignatureText != "" {
		fmt.Fprintf(&b, "<p>--<br/>%s</p>", html.EscapeString(agent.SignatureText))
	}
	if agent.SignatureImageURL != "" {
		fmt.Fprintf(&b, `<p><img src="%s" alt="signature"/></p>`, agent.SignatureImageURL)
	}
	return b.String()
}

func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
