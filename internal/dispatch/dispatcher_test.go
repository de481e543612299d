package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replydesk/internal/channels"
	"github.com/replydesk/internal/conversation"
	"github.com/replydesk/internal/directory"
)

type fakeEmail struct {
	sent []*channels.EmailOutbound
	err  error
}

func (f *fakeEmail) Send(ctx context.Context, out *channels.EmailOutbound) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, out)
	return "msg-id-1@example.com", nil
}

type fakeWhatsApp struct {
	sent []*channels.WhatsAppOutbound
}

func (f *fakeWhatsApp) Send(ctx context.Context, out *channels.WhatsAppOutbound) (string, error) {
	f.sent = append(f.sent, out)
	return "wamid.1", nil
}

type fakeWebhook struct {
	posted []*channels.WebhookOutbound
}

func (f *fakeWebhook) Post(ctx context.Context, out *channels.WebhookOutbound) (string, error) {
	f.posted = append(f.posted, out)
	return "", nil
}

type fixture struct {
	store    *conversation.InMemoryStore
	dir      *directory.InMemoryDirectory
	email    *fakeEmail
	whatsapp *fakeWhatsApp
	webhook  *fakeWebhook
	d        *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    conversation.NewInMemoryStore(),
		dir:      directory.NewInMemoryDirectory(),
		email:    &fakeEmail{},
		whatsapp: &fakeWhatsApp{},
		webhook:  &fakeWebhook{},
	}
	f.d = NewDispatcher(f.store, f.dir, f.email, f.whatsapp, f.webhook)

	f.dir.PutOrgSettings(&directory.OrgSettings{
		OrgID:             1,
		EmailFromName:     "Acme Support",
		EmailFromAddress:  "support@acme.test",
		WhatsAppConnected: true,
	})
	f.dir.PutCustomer(&directory.Customer{
		ID:         "cust-1",
		OrgID:      1,
		Email:      "dana@example.com",
		Phone:      "+15550001111",
		WebhookURL: "https://hooks.example.com/in",
	})
	f.dir.PutAgent(&directory.Agent{
		ID: "agent-1", OrgID: 1, Name: "Alex",
		SignatureEnabled: true, SignatureText: "Alex from Acme",
	})
	return f
}

func (f *fixture) newCase(t *testing.T, ch channels.Channel) (*directory.Case, *conversation.Thread) {
	t.Helper()
	cse := &directory.Case{
		ID: "case-1", OrgID: 1, CustomerID: "cust-1",
		Subject: "Printer on fire", Status: directory.StatusOpen, Channel: ch,
	}
	f.dir.PutCase(cse)
	thread := &conversation.Thread{CaseID: cse.ID, OrgID: 1}
	require.NoError(t, f.store.CreateThread(context.Background(), thread))
	return cse, thread
}

func (f *fixture) newMessage(t *testing.T, thread *conversation.Thread, ch channels.Channel, author conversation.AuthorRef, content string, atts ...conversation.Attachment) *conversation.Message {
	t.Helper()
	m := &conversation.Message{
		ThreadID:    thread.ID,
		Visibility:  conversation.VisibilityExternal,
		Channel:     ch,
		Author:      author,
		Content:     content,
		Attachments: atts,
	}
	require.NoError(t, f.store.CreateMessage(context.Background(), m))
	return m
}

var aiAuthor = conversation.AuthorRef{Type: conversation.AuthorAI, ID: "ai"}

func TestDispatchEmail(t *testing.T) {
	f := newFixture(t)
	cse, thread := f.newCase(t, channels.ChannelEmail)
	m := f.newMessage(t, thread, channels.ChannelEmail, aiAuthor, "All sorted now.")

	result := f.d.Dispatch(context.Background(), Request{Message: m, Case: cse})
	require.True(t, result.Delivered)
	assert.Equal(t, "msg-id-1@example.com", result.ExternalID)

	require.Len(t, f.email.sent, 1)
	out := f.email.sent[0]
	assert.Equal(t, "Acme Support", out.FromName)
	assert.Equal(t, "support@acme.test", out.FromAddress)
	assert.Equal(t, "dana@example.com", out.To)
	assert.Equal(t, "Re: Printer on fire", out.Subject)
	assert.Contains(t, out.HTMLBody, "All sorted now.")

	// External id persisted for future threading.
	stored, err := f.store.GetMessage(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, "msg-id-1@example.com", stored.ExternalID)
}

func TestDispatchEmailThreadsOnLatestExternalID(t *testing.T) {
	f := newFixture(t)
	cse, thread := f.newCase(t, channels.ChannelEmail)

	first := f.newMessage(t, thread, channels.ChannelEmail, aiAuthor, "first")
	require.NoError(t, f.store.SetExternalID(context.Background(), first.ID, "prior@example.com"))

	second := f.newMessage(t, thread, channels.ChannelEmail, aiAuthor, "second")
	result := f.d.Dispatch(context.Background(), Request{Message: second, Case: cse})
	require.True(t, result.Delivered)

	out := f.email.sent[len(f.email.sent)-1]
	assert.Equal(t, "prior@example.com", out.InReplyTo)
	assert.Equal(t, "prior@example.com", out.References)
}

func TestDispatchEmailAgentSignature(t *testing.T) {
	f := newFixture(t)
	cse, thread := f.newCase(t, channels.ChannelEmail)
	m := f.newMessage(t, thread, channels.ChannelEmail,
		conversation.AuthorRef{Type: conversation.AuthorAgent, ID: "agent-1"}, "Done.")

	result := f.d.Dispatch(context.Background(), Request{Message: m, Case: cse})
	require.True(t, result.Delivered)
	assert.Contains(t, f.email.sent[0].HTMLBody, "Alex from Acme")
}

func TestDispatchEmailHTMLPassthrough(t *testing.T) {
	f := newFixture(t)
	cse, thread := f.newCase(t, channels.ChannelEmail)
	rich := "<p>Hello <strong>Dana</strong></p>"
	m := f.newMessage(t, thread, channels.ChannelEmail, aiAuthor, rich)

	result := f.d.Dispatch(context.Background(), Request{Message: m, Case: cse})
	require.True(t, result.Delivered)
	assert.Equal(t, rich, f.email.sent[0].HTMLBody, "rich content must not be re-rendered")
}

func TestDispatchEmailNoRecipient(t *testing.T) {
	f := newFixture(t)
	f.dir.PutCustomer(&directory.Customer{ID: "cust-1", OrgID: 1}) // no email
	cse, thread := f.newCase(t, channels.ChannelEmail)
	m := f.newMessage(t, thread, channels.ChannelEmail, aiAuthor, "hello")

	result := f.d.Dispatch(context.Background(), Request{Message: m, Case: cse})
	assert.False(t, result.Delivered)
	assert.ErrorIs(t, result.Failure, channels.ErrNoRecipient)
}

func TestDispatchWhatsAppSingleMedia(t *testing.T) {
	f := newFixture(t)
	cse, thread := f.newCase(t, channels.ChannelWhatsApp)
	m := f.newMessage(t, thread, channels.ChannelWhatsApp, aiAuthor, "see attached",
		conversation.Attachment{FileName: "a.png", MimeType: "image/png", URL: "https://cdn.test/a.png"},
		conversation.Attachment{FileName: "b.pdf", MimeType: "application/pdf", URL: "https://cdn.test/b.pdf"},
	)

	result := f.d.Dispatch(context.Background(), Request{Message: m, Case: cse})
	require.True(t, result.Delivered)
	require.Len(t, f.whatsapp.sent, 1)
	out := f.whatsapp.sent[0]
	assert.Equal(t, "+15550001111", out.To)
	assert.Equal(t, "https://cdn.test/a.png", out.MediaURL, "only the first attachment rides along")
	assert.Equal(t, channels.MediaImage, out.MediaKind)
}

func TestDispatchWhatsAppNotConnected(t *testing.T) {
	f := newFixture(t)
	f.dir.PutOrgSettings(&directory.OrgSettings{OrgID: 1, WhatsAppConnected: false})
	cse, thread := f.newCase(t, channels.ChannelWhatsApp)
	m := f.newMessage(t, thread, channels.ChannelWhatsApp, aiAuthor, "hi")

	result := f.d.Dispatch(context.Background(), Request{Message: m, Case: cse})
	assert.False(t, result.Delivered)
	assert.ErrorIs(t, result.Failure, channels.ErrNoConnection)
	assert.Empty(t, f.whatsapp.sent)
}

func TestDispatchWebhook(t *testing.T) {
	f := newFixture(t)
	cse, thread := f.newCase(t, channels.ChannelWebhook)
	m := f.newMessage(t, thread, channels.ChannelWebhook, aiAuthor, "<p>flat me</p>")

	result := f.d.Dispatch(context.Background(), Request{Message: m, Case: cse})
	require.True(t, result.Delivered)
	require.Len(t, f.webhook.posted, 1)
	out := f.webhook.posted[0]
	assert.Equal(t, "https://hooks.example.com/in", out.URL)
	assert.Equal(t, "flat me", out.Text)
	assert.Equal(t, "case-1", out.CaseID)
}

func TestDispatchWidgetIsNoop(t *testing.T) {
	f := newFixture(t)
	cse, thread := f.newCase(t, channels.ChannelWidget)
	m := f.newMessage(t, thread, channels.ChannelWidget, aiAuthor, "hi")

	result := f.d.Dispatch(context.Background(), Request{Message: m, Case: cse})
	assert.True(t, result.Delivered)
	assert.Empty(t, result.ExternalID)
	assert.Empty(t, f.email.sent)
	assert.Empty(t, f.whatsapp.sent)
	assert.Empty(t, f.webhook.posted)
}

func TestDispatchRefusesInternalMessage(t *testing.T) {
	f := newFixture(t)
	cse, thread := f.newCase(t, channels.ChannelEmail)
	m := &conversation.Message{
		ThreadID:   thread.ID,
		Visibility: conversation.VisibilityInternal,
		Channel:    channels.ChannelEmail,
		Author:     aiAuthor,
		Content:    "internal note",
	}
	require.NoError(t, f.store.CreateMessage(context.Background(), m))

	result := f.d.Dispatch(context.Background(), Request{Message: m, Case: cse})
	assert.False(t, result.Delivered)
	assert.Empty(t, f.email.sent)
}

func TestDispatchUnknownChannel(t *testing.T) {
	f := newFixture(t)
	cse, thread := f.newCase(t, channels.Channel("carrier-pigeon"))
	m := f.newMessage(t, thread, channels.Channel("carrier-pigeon"), aiAuthor, "coo")

	result := f.d.Dispatch(context.Background(), Request{Message: m, Case: cse})
	assert.False(t, result.Delivered)
	assert.ErrorIs(t, result.Failure, channels.ErrUnsupportedChannel)
}

func TestDispatchSendFailure(t *testing.T) {
	f := newFixture(t)
	f.email.err = errors.New("smtp: connection refused")
	cse, thread := f.newCase(t, channels.ChannelEmail)
	m := f.newMessage(t, thread, channels.ChannelEmail, aiAuthor, "hello")

	result := f.d.Dispatch(context.Background(), Request{Message: m, Case: cse})
	assert.False(t, result.Delivered)
	require.Error(t, result.Failure)

	// No external id was recorded for the failed send.
	stored, err := f.store.GetMessage(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.ExternalID)
}

func TestRecipientOverride(t *testing.T) {
	f := newFixture(t)
	cse, thread := f.newCase(t, channels.ChannelEmail)
	m := f.newMessage(t, thread, channels.ChannelEmail, aiAuthor, "hello")

	result := f.d.Dispatch(context.Background(), Request{
		Message: m, Case: cse, RecipientOverride: "other@example.com",
	})
	require.True(t, result.Delivered)
	assert.Equal(t, "other@example.com", f.email.sent[0].To)
}
