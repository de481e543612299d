package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replydesk/internal/channels"
	"github.com/replydesk/internal/conversation"
	"github.com/replydesk/internal/directory"
	"github.com/replydesk/internal/dispatch"
	"github.com/replydesk/internal/jobqueue"
	"github.com/replydesk/internal/realtime"
)

const testSecret = "test-secret"

type recordingEnqueuer struct {
	replies       []jobqueue.GenerateReplyArgs
	interventions []jobqueue.SendInterventionArgs
	notices       []jobqueue.SendEscalationNoticeArgs
}

func (r *recordingEnqueuer) EnqueueGenerateReply(ctx context.Context, args jobqueue.GenerateReplyArgs) error {
	r.replies = append(r.replies, args)
	return nil
}

func (r *recordingEnqueuer) EnqueueIntervention(ctx context.Context, args jobqueue.SendInterventionArgs) error {
	r.interventions = append(r.interventions, args)
	return nil
}

func (r *recordingEnqueuer) EnqueueEscalationNotice(ctx context.Context, args jobqueue.SendEscalationNoticeArgs) error {
	r.notices = append(r.notices, args)
	return nil
}

type fakeEmailSender struct {
	sent []*channels.EmailOutbound
}

func (f *fakeEmailSender) Send(ctx context.Context, out *channels.EmailOutbound) (string, error) {
	f.sent = append(f.sent, out)
	return "ext-1", nil
}

type noopWhatsApp struct{}

func (noopWhatsApp) Send(ctx context.Context, out *channels.WhatsAppOutbound) (string, error) {
	return "", nil
}

type noopWebhook struct{}

func (noopWebhook) Post(ctx context.Context, out *channels.WebhookOutbound) (string, error) {
	return "", nil
}

type apiEnv struct {
	server *Server
	dir    *directory.InMemoryDirectory
	store  *conversation.InMemoryStore
	convo  *conversation.Service
	queue  *recordingEnqueuer
	email  *fakeEmailSender
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	dir := directory.NewInMemoryDirectory()
	store := conversation.NewInMemoryStore()
	broadcaster := realtime.NewBroadcaster()
	convo := conversation.NewService(store, dir, broadcaster)
	email := &fakeEmailSender{}
	dispatcher := dispatch.NewDispatcher(store, dir, email, noopWhatsApp{}, noopWebhook{})
	queue := &recordingEnqueuer{}

	dir.PutOrgSettings(&directory.OrgSettings{
		OrgID:            1,
		EmailFromName:    "Support",
		EmailFromAddress: "support@example.com",
	})
	dir.PutCustomer(&directory.Customer{
		ID:    "cust-1",
		OrgID: 1,
		Email: "dana@example.com",
	})
	dir.PutCase(&directory.Case{
		ID:         "case-1",
		OrgID:      1,
		CustomerID: "cust-1",
		Subject:    "Login issue",
		Status:     directory.StatusOpen,
		Channel:    channels.ChannelEmail,
	})
	dir.PutAgent(&directory.Agent{ID: "agent-1", OrgID: 1, Name: "Alex"})

	return &apiEnv{
		server: NewServer(0, convo, store, dir, dispatcher, queue, broadcaster, testSecret),
		dir:    dir,
		store:  store,
		convo:  convo,
		queue:  queue,
		email:  email,
	}
}

func (env *apiEnv) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echoHeaderContentType, "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.server.echo.ServeHTTP(rec, req)
	return rec
}

const echoHeaderContentType = "Content-Type"

func agentToken(t *testing.T, agentID string, admin bool, groups []string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, agentClaims{
		OrgID:    1,
		Admin:    admin,
		GroupIDs: groups,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   agentID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestHealth(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestIngestEmailAppendsAndEnqueues(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/ingest/email", "",
		`{"org_id":1,"case_id":"case-1","customer_id":"cust-1","content":"I cannot log in"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp inboundResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.MessageID)

	msgs, err := env.store.ListMessages(context.Background(), resp.ThreadID, conversation.ListOptions{})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, conversation.AuthorCustomer, msgs[0].Author.Type)
	assert.Equal(t, channels.ChannelEmail, msgs[0].Channel)

	require.Len(t, env.queue.replies, 1)
	assert.Equal(t, "case-1", env.queue.replies[0].CaseID)
	assert.Equal(t, resp.MessageID, env.queue.replies[0].TriggerMessageID)
	assert.Equal(t, msgs[0].Seq, env.queue.replies[0].TriggerSeq)
}

func TestIngestRejectsIncompletePayload(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/ingest/email", "",
		`{"org_id":1,"case_id":"case-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, env.queue.replies)
}

func TestIngestUnknownCustomer(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/ingest/email", "",
		`{"org_id":1,"case_id":"case-1","customer_id":"nobody","content":"hi"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWidgetMessageBindsSession(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/widget/sess-42/messages", "",
		`{"org_id":1,"case_id":"case-1","customer_id":"cust-1","content":"hello"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	thread, err := env.store.GetThreadByCase(context.Background(), 1, "case-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-42", thread.WidgetSessionID())
}

func TestAgentEndpointsRequireToken(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/threads/t-1/messages", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/threads/t-1/messages", "not-a-jwt", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListMessagesFiltersInternalNotes(t *testing.T) {
	env := newAPIEnv(t)
	env.dir.PutAgent(&directory.Agent{ID: "agent-2", OrgID: 1, Name: "Sam"})

	thread, err := env.convo.GetOrCreateThread(context.Background(), 1, "case-1", "cust-1", nil)
	require.NoError(t, err)
	_, err = env.convo.AppendMessage(context.Background(), conversation.AppendMessageRequest{
		OrgID: 1, ThreadID: thread.ID,
		Visibility: conversation.VisibilityExternal,
		Channel:    channels.ChannelEmail,
		Author:     conversation.AuthorRef{Type: conversation.AuthorCustomer, ID: "cust-1"},
		Content:    "help please",
	})
	require.NoError(t, err)
	_, err = env.convo.AppendMessage(context.Background(), conversation.AppendMessageRequest{
		OrgID: 1, ThreadID: thread.ID,
		Visibility: conversation.VisibilityInternal,
		Channel:    channels.ChannelPlatform,
		Author:     conversation.AuthorRef{Type: conversation.AuthorAgent, ID: "agent-1"},
		Content:    "customer is on the legacy plan",
	})
	require.NoError(t, err)

	// Uninvolved agent: external only.
	rec := env.do(t, http.MethodGet, "/api/v1/threads/"+thread.ID+"/messages",
		agentToken(t, "agent-2", false, nil), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "legacy plan")
	assert.Contains(t, rec.Body.String(), "help please")

	// Admin sees the note.
	rec = env.do(t, http.MethodGet, "/api/v1/threads/"+thread.ID+"/messages",
		agentToken(t, "agent-2", true, nil), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "legacy plan")
}

func TestPostAgentReplyDispatches(t *testing.T) {
	env := newAPIEnv(t)
	thread, err := env.convo.GetOrCreateThread(context.Background(), 1, "case-1", "cust-1", nil)
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/v1/threads/"+thread.ID+"/messages",
		agentToken(t, "agent-1", false, nil),
		`{"visibility":"external","content":"Please reset your password from the login page."}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"delivered":true`)

	require.Len(t, env.email.sent, 1)
	assert.Equal(t, "dana@example.com", env.email.sent[0].To)

	// A human reply auto-assigns the unassigned case.
	cse, err := env.dir.FindCase(context.Background(), 1, "case-1")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", cse.AssignedAgentID)
}

func TestPostInternalNoteSkipsDispatch(t *testing.T) {
	env := newAPIEnv(t)
	thread, err := env.convo.GetOrCreateThread(context.Background(), 1, "case-1", "cust-1", nil)
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/v1/threads/"+thread.ID+"/messages",
		agentToken(t, "agent-1", false, nil),
		`{"visibility":"internal","content":"checking with billing"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, env.email.sent)
}

func TestMarkRead(t *testing.T) {
	env := newAPIEnv(t)
	thread, err := env.convo.GetOrCreateThread(context.Background(), 1, "case-1", "cust-1", nil)
	require.NoError(t, err)
	msg, err := env.convo.AppendMessage(context.Background(), conversation.AppendMessageRequest{
		OrgID: 1, ThreadID: thread.ID,
		Visibility: conversation.VisibilityExternal,
		Channel:    channels.ChannelEmail,
		Author:     conversation.AuthorRef{Type: conversation.AuthorCustomer, ID: "cust-1"},
		Content:    "hello",
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/v1/messages/"+msg.ID+"/read",
		agentToken(t, "agent-1", false, nil), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	stored, err := env.store.GetMessage(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Contains(t, stored.ReadBy, "agent-1")
}

func TestTriggerInterventionAndEscalationNotice(t *testing.T) {
	env := newAPIEnv(t)
	token := agentToken(t, "agent-1", false, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/cases/case-1/intervention", token, "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, env.queue.interventions, 1)
	assert.Equal(t, "case-1", env.queue.interventions[0].CaseID)

	rec = env.do(t, http.MethodPost, "/api/v1/cases/case-1/escalation-notice", token, "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, env.queue.notices, 1)
}
