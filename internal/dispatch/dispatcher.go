// Package dispatch delivers one external message over the channel its
// conversation uses. Dispatch is a pure delivery step: no retries of its
// own, and a failure never touches the already-persisted message beyond the
// missing external id. The message exists either way; delivery is
// at-most-once per call.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/replydesk/internal/channels"
	"github.com/replydesk/internal/conversation"
	"github.com/replydesk/internal/directory"
)

// Result reports one dispatch attempt. Failure carries the reason when
// Delivered is false; callers log it and decide their own retry policy.
type Result struct {
	Delivered  bool
	ExternalID string
	Failure    error
}

// Dispatcher renders an outbound message for its channel and invokes the
// matching transport.
type Dispatcher struct {
	store    conversation.Store
	dir      directory.Directory
	email    channels.EmailSender
	whatsapp channels.WhatsAppSender
	webhook  channels.WebhookPoster
}

func NewDispatcher(store conversation.Store, dir directory.Directory, email channels.EmailSender, whatsapp channels.WhatsAppSender, webhook channels.WebhookPoster) *Dispatcher {
	return &Dispatcher{
		store:    store,
		dir:      dir,
		email:    email,
		whatsapp: whatsapp,
		webhook:  webhook,
	}
}

// Request is one outbound delivery. RecipientOverride, when set, replaces
// the address resolved from the customer record.
type Request struct {
	Message *conversation.Message
	Case    *directory.Case

	RecipientOverride string
}

// Dispatch delivers the message on the case's channel. Only external
// messages are dispatchable; the provider-assigned external id is persisted
// onto the message on success.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Result {
	msg, cse := req.Message, req.Case
	if msg.Visibility != conversation.VisibilityExternal {
		return failure(fmt.Errorf("refusing to dispatch %s message %s", msg.Visibility, msg.ID))
	}

	out, err := d.buildOutbound(ctx, req)
	if err != nil {
		log.Warn().
			Str("message_id", msg.ID).
			Str("case_id", cse.ID).
			Str("channel", string(msg.Channel)).
			Err(err).
			Msg("dispatch build failed")
		return failure(err)
	}

	externalID, err := d.send(ctx, out)
	if err != nil {
		log.Warn().
			Str("message_id", msg.ID).
			Str("case_id", cse.ID).
			Str("channel", string(msg.Channel)).
			Err(err).
			Msg("dispatch send failed")
		return failure(err)
	}

	if externalID != "" {
		if err := d.store.SetExternalID(ctx, msg.ID, externalID); err != nil {
			// The message went out; losing the id only degrades threading.
			log.Warn().
				Str("message_id", msg.ID).
				Str("external_id", externalID).
				Err(err).
				Msg("failed to persist external id")
		}
	}

	return Result{Delivered: true, ExternalID: externalID}
}

// buildOutbound renders the message into the channel's payload type.
func (d *Dispatcher) buildOutbound(ctx context.Context, req Request) (channels.Outbound, error) {
	msg, cse := req.Message, req.Case

	switch msg.Channel {
	case channels.ChannelWidget:
		return channels.WidgetOutbound{}, nil

	case channels.ChannelEmail:
		return d.buildEmail(ctx, req)

	case channels.ChannelWhatsApp:
		settings, err := d.dir.OrgSettings(ctx, cse.OrgID)
		if err != nil {
			return nil, err
		}
		if !settings.WhatsAppConnected {
			return nil, channels.ErrNoConnection
		}
		to := req.RecipientOverride
		if to == "" {
			customer, err := d.dir.FindCustomer(ctx, cse.OrgID, cse.CustomerID)
			if err != nil {
				return nil, err
			}
			to = customer.Phone
		}
		if to == "" {
			return nil, channels.ErrNoRecipient
		}
		out := channels.WhatsAppOutbound{
			To:   to,
			Text: renderPlainText(msg.Content),
		}
		// Provider limitation: one media item per message. The first
		// attachment wins; the rest are reachable from the thread.
		if len(msg.Attachments) > 0 {
			att := msg.Attachments[0]
			out.MediaURL = att.URL
			out.MediaKind = channels.ClassifyMIME(att.MimeType)
			out.MimeType = att.MimeType
			out.FileName = att.FileName
		}
		return out, nil

	case channels.ChannelWebhook:
		url := req.RecipientOverride
		if url == "" {
			customer, err := d.dir.FindCustomer(ctx, cse.OrgID, cse.CustomerID)
			if err != nil {
				return nil, err
			}
			url = customer.WebhookURL
		}
		if url == "" {
			return nil, channels.ErrNoConnection
		}
		return channels.WebhookOutbound{
			URL:       url,
			Text:      renderPlainText(msg.Content),
			CaseID:    cse.ID,
			Timestamp: time.Now(),
		}, nil

	default:
		return nil, channels.ErrUnsupportedChannel
	}
}

func (d *Dispatcher) buildEmail(ctx context.Context, req Request) (channels.Outbound, error) {
	msg, cse := req.Message, req.Case

	settings, err := d.dir.OrgSettings(ctx, cse.OrgID)
	if err != nil {
		return nil, err
	}
	if settings.EmailFromAddress == "" {
		return nil, channels.ErrNoConnection
	}

	to := req.RecipientOverride
	if to == "" {
		customer, err := d.dir.FindCustomer(ctx, cse.OrgID, cse.CustomerID)
		if err != nil {
			return nil, err
		}
		to = customer.Email
	}
	if to == "" {
		return nil, channels.ErrNoRecipient
	}

	body := renderHTML(msg.Content)
	body = appendAttachmentPreviews(body, msg.Attachments)

	if msg.Author.Type == conversation.AuthorAgent {
		agent, err := d.dir.FindAgent(ctx, cse.OrgID, msg.Author.ID)
		if err == nil {
			body = appendSignature(body, agent)
		} else if !errors.Is(err, directory.ErrNotFound) {
			return nil, err
		}
	}

	// Thread on the last known provider id so the customer's mail client
	// keeps the conversation together.
	lastExternal, err := d.store.LatestExternalID(ctx, msg.ThreadID)
	if err != nil {
		return nil, err
	}

	return channels.EmailOutbound{
		FromName:    settings.EmailFromName,
		FromAddress: settings.EmailFromAddress,
		To:          to,
		Subject:     buildSubject(cse.Subject),
		HTMLBody:    body,
		InReplyTo:   lastExternal,
		References:  lastExternal,
	}, nil
}

// send hands the payload to the channel's transport. The switch is over the
// tagged union, so an unhandled payload type is a structural failure, not a
// silent drop.
func (d *Dispatcher) send(ctx context.Context, out channels.Outbound) (string, error) {
	switch o := out.(type) {
	case channels.WidgetOutbound:
		// Widget delivery already happened as the write-time live push.
		return "", nil
	case channels.EmailOutbound:
		if d.email == nil {
			return "", channels.ErrNoConnection
		}
		return d.email.Send(ctx, &o)
	case channels.WhatsAppOutbound:
		if d.whatsapp == nil {
			return "", channels.ErrNoConnection
		}
		return d.whatsapp.Send(ctx, &o)
	case channels.WebhookOutbound:
		if d.webhook == nil {
			return "", channels.ErrNoConnection
		}
		return d.webhook.Post(ctx, &o)
	default:
		return "", channels.ErrUnsupportedChannel
	}
}

func failure(err error) Result {
	return Result{Delivered: false, Failure: err}
}
