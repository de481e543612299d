package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/replydesk/internal/channels"
	"github.com/replydesk/internal/conversation"
	"github.com/replydesk/internal/jobqueue"
)

// inboundRequest is the wire format shared by the channel ingestion
// endpoints. Channel connectors (mail pipe, WhatsApp bridge, webhook
// receivers) normalize into this before posting.
type inboundRequest struct {
	OrgID       int64           `json:"org_id"`
	CaseID      string          `json:"case_id"`
	CustomerID  string          `json:"customer_id"`
	Content     string          `json:"content"`
	Attachments []attachmentDTO `json:"attachments,omitempty"`
}

type attachmentDTO struct {
	FileName  string `json:"file_name"`
	MimeType  string `json:"mime_type"`
	URL       string `json:"url"`
	SizeBytes int64  `json:"size_bytes"`
}

type inboundResponse struct {
	MessageID string `json:"message_id"`
	ThreadID  string `json:"thread_id"`
}

func (s *Server) ingestInbound(ch channels.Channel) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req inboundRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		return s.acceptInbound(c, ch, req, nil)
	}
}

// postWidgetMessage ingests a widget message. The session id from the path
// is bound to the thread so live pushes reach this visitor.
func (s *Server) postWidgetMessage(c echo.Context) error {
	var req inboundRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	meta := map[string]string{
		conversation.MetadataWidgetSession: c.Param("session"),
	}
	return s.acceptInbound(c, channels.ChannelWidget, req, meta)
}

// acceptInbound appends the customer message and queues the AI decision.
// The write and the enqueue are not atomic: a failed enqueue returns 502 so
// the connector retries, and the worker's idempotency check absorbs the
// duplicate append that retry can cause.
func (s *Server) acceptInbound(c echo.Context, ch channels.Channel, req inboundRequest, metadata map[string]string) error {
	ctx := c.Request().Context()

	if req.OrgID == 0 || req.CaseID == "" || req.CustomerID == "" || req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "org_id, case_id, customer_id and content are required")
	}

	thread, err := s.convo.GetOrCreateThread(ctx, req.OrgID, req.CaseID, req.CustomerID, metadata)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "unknown case or customer")
		}
		return err
	}

	attachments := make([]conversation.Attachment, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		attachments = append(attachments, conversation.Attachment{
			FileName:  a.FileName,
			MimeType:  a.MimeType,
			URL:       a.URL,
			SizeBytes: a.SizeBytes,
		})
	}

	msg, err := s.convo.AppendMessage(ctx, conversation.AppendMessageRequest{
		OrgID:       req.OrgID,
		ThreadID:    thread.ID,
		Visibility:  conversation.VisibilityExternal,
		Channel:     ch,
		Author:      conversation.AuthorRef{Type: conversation.AuthorCustomer, ID: req.CustomerID},
		Content:     req.Content,
		Attachments: attachments,
	})
	if err != nil {
		return err
	}

	if err := s.queue.EnqueueGenerateReply(ctx, jobqueue.GenerateReplyArgs{
		OrgID:            req.OrgID,
		CaseID:           req.CaseID,
		TriggerMessageID: msg.ID,
		TriggerSeq:       msg.Seq,
	}); err != nil {
		log.Error().
			Str("case_id", req.CaseID).
			Str("message_id", msg.ID).
			Err(err).
			Msg("failed to enqueue generate-reply job")
		return echo.NewHTTPError(http.StatusBadGateway, "message stored but processing could not be queued")
	}

	return c.JSON(http.StatusAccepted, inboundResponse{MessageID: msg.ID, ThreadID: thread.ID})
}
