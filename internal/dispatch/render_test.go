package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/replydesk/internal/conversation"
	"github.com/replydesk/internal/directory"
)

func TestRenderHTMLMarkdown(t *testing.T) {
	out := renderHTML("Hello **Dana**, try this:\n\n- restart\n- retry")
	assert.Contains(t, out, "<strong>Dana</strong>")
	assert.Contains(t, out, "<li>restart</li>")
}

func TestRenderHTMLPassthrough(t *testing.T) {
	in := `<div>already <em>rich</em></div>`
	assert.Equal(t, in, renderHTML(in))
}

func TestRenderHTMLEscapesAngleBracketsInProse(t *testing.T) {
	out := renderHTML("use x < 10 here")
	assert.NotContains(t, out, "x < 10")
	assert.Contains(t, out, "&lt;")
}

func TestRenderPlainText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain stays", "just text", "just text"},
		{"br to newline", "line one<br/>line two", "line one\nline two"},
		{"paragraphs", "<p>one</p><p>two</p>", "one\ntwo"},
		{"entities", "<p>a &amp; b</p>", "a & b"},
		{"collapse blanks", "<p>a</p><br/><br/><br/><p>b</p>", "a\n\nb"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, renderPlainText(tc.in))
		})
	}
}

func TestBuildSubject(t *testing.T) {
	assert.Equal(t, "Re: Broken login", buildSubject("Broken login"))
	assert.Equal(t, "Re: broken login", buildSubject("Re: broken login"))
	assert.Equal(t, "RE: broken login", buildSubject("RE: broken login"))
	assert.Equal(t, "Re: Your support request", buildSubject("  "))
}

func TestAppendAttachmentPreviews(t *testing.T) {
	atts := []conversation.Attachment{
		{FileName: "shot.png", MimeType: "image/png", URL: "https://cdn.test/shot.png"},
		{FileName: "log.txt", MimeType: "text/plain", URL: "https://cdn.test/log.txt", SizeBytes: 2048},
	}
	out := appendAttachmentPreviews("<p>body</p>", atts)
	assert.Contains(t, out, `<img src="https://cdn.test/shot.png"`)
	assert.Contains(t, out, `<a href="https://cdn.test/log.txt">log.txt</a>`)
	assert.Contains(t, out, "2.0 KB")
}

func TestAppendAttachmentPreviewsSkipsEmbedded(t *testing.T) {
	body := `<p><img src="https://cdn.test/shot.png"/></p>`
	atts := []conversation.Attachment{
		{FileName: "shot.png", MimeType: "image/png", URL: "https://cdn.test/shot.png"},
	}
	assert.Equal(t, body, appendAttachmentPreviews(body, atts))
}

func TestAppendSignature(t *testing.T) {
	agent := &directory.Agent{
		SignatureEnabled: true,
		SignatureText:    "Alex & team",
	}
	out := appendSignature("<p>done</p>", agent)
	assert.Contains(t, out, "Alex &amp; team")

	disabled := &directory.Agent{SignatureEnabled: false, SignatureText: "hidden"}
	assert.Equal(t, "<p>done</p>", appendSignature("<p>done</p>", disabled))
}

func TestHumanSize(t *testing.T) {
	assert.Equal(t, "512 B", humanSize(512))
	assert.Equal(t, "1.0 KB", humanSize(1024))
	assert.Equal(t, "1.5 MB", humanSize(3*1024*1024/2))
}
