package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/replydesk/internal/conversation"
	"github.com/replydesk/internal/directory"
	"github.com/replydesk/internal/dispatch"
	"github.com/replydesk/internal/jobqueue"
	"github.com/replydesk/internal/realtime"
)

type messageDTO struct {
	ID         string          `json:"id"`
	ThreadID   string          `json:"thread_id"`
	Seq        int64           `json:"seq"`
	Visibility string          `json:"visibility"`
	Channel    string          `json:"channel"`
	Author     authorDTO       `json:"author"`
	Content    string          `json:"content"`
	Atts       []attachmentDTO `json:"attachments,omitempty"`
	ExternalID string          `json:"external_id,omitempty"`
	ReadBy     []string        `json:"read_by,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

type authorDTO struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

func toMessageDTO(m *conversation.Message) messageDTO {
	dto := messageDTO{
		ID:         m.ID,
		ThreadID:   m.ThreadID,
		Seq:        m.Seq,
		Visibility: string(m.Visibility),
		Channel:    string(m.Channel),
		Author:     authorDTO{Type: string(m.Author.Type), ID: m.Author.ID, Name: m.Author.Name},
		Content:    m.Content,
		ExternalID: m.ExternalID,
		ReadBy:     m.ReadBy,
		CreatedAt:  m.CreatedAt,
	}
	for _, a := range m.Attachments {
		dto.Atts = append(dto.Atts, attachmentDTO{
			FileName: a.FileName, MimeType: a.MimeType, URL: a.URL, SizeBytes: a.SizeBytes,
		})
	}
	return dto
}

func (s *Server) listMessages(c echo.Context) error {
	ctx := c.Request().Context()
	id := identityFrom(c)

	opts := conversation.ListOptions{}
	if v := c.QueryParam("after_seq"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid after_seq")
		}
		opts.AfterSeq = n
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		opts.Limit = n
	}

	msgs, err := s.convo.ListMessages(ctx, id.OrgID, c.Param("id"), conversation.Requester{
		ActorID:  id.AgentID,
		GroupIDs: id.GroupIDs,
		Admin:    id.Admin,
	}, opts)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "thread not found")
		}
		return err
	}

	out := make([]messageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageDTO(m))
	}
	return c.JSON(http.StatusOK, map[string]any{"messages": out})
}

type postMessageRequest struct {
	Visibility  string          `json:"visibility"`
	Content     string          `json:"content"`
	Attachments []attachmentDTO `json:"attachments,omitempty"`
}

// postAgentMessage writes an agent reply or internal note. External replies
// are dispatched on the case's channel; a delivery failure is reported in
// the response but the message is already persisted.
func (s *Server) postAgentMessage(c echo.Context) error {
	ctx := c.Request().Context()
	id := identityFrom(c)

	var req postMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}
	visibility := conversation.Visibility(req.Visibility)
	if !visibility.IsValid() {
		return echo.NewHTTPError(http.StatusBadRequest, "visibility must be external or internal")
	}

	thread, err := s.store.GetThread(ctx, id.OrgID, c.Param("id"))
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "thread not found")
		}
		return err
	}
	cse, err := s.dir.FindCase(ctx, id.OrgID, thread.CaseID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "case not found")
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
		OrgID:       id.OrgID,
		ThreadID:    thread.ID,
		Visibility:  visibility,
		Channel:     cse.Channel,
		Author:      conversation.AuthorRef{Type: conversation.AuthorAgent, ID: id.AgentID},
		Content:     req.Content,
		Attachments: attachments,
	})
	if err != nil {
		if errors.Is(err, conversation.ErrForbidden) {
			return echo.NewHTTPError(http.StatusForbidden, "not allowed to post to this thread")
		}
		return err
	}

	delivered := true
	var deliveryError string
	if visibility == conversation.VisibilityExternal {
		result := s.dispatcher.Dispatch(ctx, dispatch.Request{Message: msg, Case: cse})
		delivered = result.Delivered
		if result.Failure != nil {
			deliveryError = result.Failure.Error()
		}
	}

	return c.JSON(http.StatusCreated, map[string]any{
		"message":        toMessageDTO(msg),
		"delivered":      delivered,
		"delivery_error": deliveryError,
	})
}

func (s *Server) markRead(c echo.Context) error {
	id := identityFrom(c)
	if err := s.convo.MarkRead(c.Request().Context(), c.Param("id"), id.AgentID); err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "message not found")
		}
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) triggerIntervention(c echo.Context) error {
	id := identityFrom(c)
	if err := s.queue.EnqueueIntervention(c.Request().Context(), jobqueue.SendInterventionArgs{
		OrgID:  id.OrgID,
		CaseID: c.Param("id"),
	}); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "could not queue intervention")
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) triggerEscalationNotice(c echo.Context) error {
	id := identityFrom(c)
	if err := s.queue.EnqueueEscalationNotice(c.Request().Context(), jobqueue.SendEscalationNoticeArgs{
		OrgID:  id.OrgID,
		CaseID: c.Param("id"),
	}); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "could not queue escalation notice")
	}
	return c.NoContent(http.StatusAccepted)
}

type streamEvent struct {
	Kind    string      `json:"kind"`
	Message *messageDTO `json:"message,omitempty"`
	Typing  *bool       `json:"typing,omitempty"`
}

// streamWidgetEvents serves the widget's live event feed over SSE. The
// subscription lives for the duration of the request.
func (s *Server) streamWidgetEvents(c echo.Context) error {
	session := c.Param("session")
	if session == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session is required")
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	ctx := c.Request().Context()
	events, _ := s.broadcaster.Subscribe(ctx, session)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			out := streamEvent{Kind: string(ev.Kind)}
			switch ev.Kind {
			case realtime.EventMessage:
				dto := toMessageDTO(ev.Message)
				out.Message = &dto
			case realtime.EventTyping:
				typing := ev.Typing
				out.Typing = &typing
			}
			payload, err := json.Marshal(out)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(res, "data: %s\n\n", payload); err != nil {
				return nil
			}
			res.Flush()
		}
	}
}
