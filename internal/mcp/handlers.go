package mcp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/skworld/advocate/internal/model"
	"github.com/skworld/advocate/internal/negotiation"
	"github.com/skworld/advocate/internal/transport"
)

// SendInput defines parameters for the advocate_send tool.
type SendInput struct {
	Recipient  string `json:"recipient" jsonschema:"identity URI of the recipient"`
	Content    string `json:"content" jsonschema:"message body"`
	ThreadID   string `json:"thread_id,omitempty" jsonschema:"conversation thread id"`
	ReplyTo    string `json:"reply_to,omitempty" jsonschema:"id of the message being answered"`
	TTLSeconds int    `json:"ttl_seconds,omitempty" jsonschema:"ephemeral lifetime in seconds, 0 for durable"`
}

// SendOutput confirms delivery.
type SendOutput struct {
	MessageID string `json:"message_id"`
	Recipient string `json:"recipient"`
}

// InboxInput is empty — no parameters needed.
type InboxInput struct{}

// InboxItem is one screened message.
type InboxItem struct {
	MessageID string  `json:"message_id"`
	Sender    string  `json:"sender"`
	Content   string  `json:"content"`
	ThreadID  string  `json:"thread_id,omitempty"`
	Flagged   bool    `json:"flagged,omitempty"`
	FlagWhy   string  `json:"flag_reason,omitempty"`
	Score     float64 `json:"score"`
}

// InboxOutput lists delivered messages and counts what was withheld.
type InboxOutput struct {
	Messages []InboxItem `json:"messages"`
	Blocked  int         `json:"blocked"`
	Rejected int         `json:"rejected"`
}

// AccessInput defines parameters for the advocate_request_access tool.
type AccessInput struct {
	Requester     string `json:"requester" jsonschema:"identity URI of the requesting peer"`
	Resource      string `json:"resource" jsonschema:"resource path being requested"`
	Level         string `json:"level" jsonschema:"permission level (read/write/admin)"`
	Justification string `json:"justification,omitempty" jsonschema:"why access is needed"`
	ExpirySeconds int64  `json:"expiry_seconds,omitempty" jsonschema:"requested token lifetime, 0 for default"`
}

// AccessOutput carries the granted token or the denial.
type AccessOutput struct {
	Granted   bool   `json:"granted"`
	TokenID   string `json:"token_id,omitempty"`
	Resource  string `json:"resource,omitempty"`
	Level     string `json:"level,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// ResolveInput defines parameters for the advocate_resolve tool.
type ResolveInput struct {
	CorrelationID string `json:"correlation_id" jsonschema:"id of the escalated request"`
	Approve       bool   `json:"approve" jsonschema:"true to approve, false to deny"`
	Resource      string `json:"resource,omitempty" jsonschema:"narrowed resource, empty keeps the requested one"`
	Level         string `json:"level,omitempty" jsonschema:"narrowed level, empty keeps the requested one"`
	TTLSeconds    int64  `json:"ttl_seconds,omitempty" jsonschema:"granted token lifetime"`
	Reason        string `json:"reason,omitempty" jsonschema:"note recorded with the decision"`
}

// ResolveOutput confirms the resolution.
type ResolveOutput struct {
	CorrelationID string `json:"correlation_id"`
	Status        string `json:"status"`
}

// PendingInput is empty — no parameters needed.
type PendingInput struct{}

// PendingItem describes one escalated request.
type PendingItem struct {
	CorrelationID string `json:"correlation_id"`
	Requester     string `json:"requester"`
	Resource      string `json:"resource"`
	Level         string `json:"level"`
	Justification string `json:"justification,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// PendingOutput lists escalations awaiting the principal.
type PendingOutput struct {
	Requests []PendingItem `json:"requests"`
}

// RevokeInput defines parameters for the advocate_revoke tool.
type RevokeInput struct {
	TokenID string `json:"token_id" jsonschema:"id of the token to revoke"`
}

// RevokeOutput confirms the revocation.
type RevokeOutput struct {
	TokenID string `json:"token_id"`
	Status  string `json:"status"`
}

func (s *Server) handleSend(ctx context.Context, req *mcpsdk.CallToolRequest, input SendInput) (*mcpsdk.CallToolResult, SendOutput, error) {
	msg := model.NewChatMessage(s.owner, input.Recipient, input.Content)
	msg.ThreadID = input.ThreadID
	msg.ReplyTo = input.ReplyTo
	msg.TTL = input.TTLSeconds

	if _, err := s.engine.SendMessage(ctx, msg); err != nil {
		return nil, SendOutput{}, err
	}
	return nil, SendOutput{MessageID: msg.ID, Recipient: input.Recipient}, nil
}

func (s *Server) handleInbox(ctx context.Context, req *mcpsdk.CallToolRequest, input InboxInput) (*mcpsdk.CallToolResult, InboxOutput, error) {
	inbox := s.maildrop.Inbox(s.owner)
	entries, err := os.ReadDir(inbox)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, InboxOutput{Messages: []InboxItem{}}, nil
		}
		return nil, InboxOutput{}, err
	}

	out := InboxOutput{Messages: []InboxItem{}}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		path := filepath.Join(inbox, e.Name())
		env, err := transport.ReadEnvelope(path)
		if err != nil {
			out.Rejected++
			_ = transport.Consume(path)
			continue
		}

		screened, err := s.engine.ScreenIncoming(ctx, env)
		switch {
		case errors.Is(err, model.ErrMessageBlocked):
			out.Blocked++
		case err != nil:
			out.Rejected++
		case screened.Message != nil:
			item := InboxItem{
				MessageID: screened.Message.ID,
				Sender:    screened.Message.Sender,
				Content:   screened.Message.Content,
				ThreadID:  screened.Message.ThreadID,
				Score:     screened.Score.Score,
			}
			if screened.Result.Action == model.ScreenFlag {
				item.Flagged = true
				item.FlagWhy = screened.Result.Reason
			}
			out.Messages = append(out.Messages, item)
		}
		_ = transport.Consume(path)
	}
	return nil, out, nil
}

func (s *Server) handleRequestAccess(ctx context.Context, req *mcpsdk.CallToolRequest, input AccessInput) (*mcpsdk.CallToolResult, AccessOutput, error) {
	areq := model.NewAccessRequest(input.Requester,
		model.Scope{Resource: input.Resource, Level: model.PermissionLevel(input.Level)},
		input.Justification, time.Duration(input.ExpirySeconds)*time.Second)

	tok, err := s.engine.NegotiateAccess(ctx, areq)
	if err != nil {
		if errors.Is(err, model.ErrAccessDenied) {
			return &mcpsdk.CallToolResult{IsError: true},
				AccessOutput{Granted: false, Reason: err.Error()}, nil
		}
		return nil, AccessOutput{}, err
	}

	return nil, AccessOutput{
		Granted:   true,
		TokenID:   tok.ID,
		Resource:  tok.Scope.Resource,
		Level:     string(tok.Scope.Level),
		ExpiresAt: tok.ExpiresAt.Format(time.RFC3339),
	}, nil
}

func (s *Server) handleResolve(ctx context.Context, req *mcpsdk.CallToolRequest, input ResolveInput) (*mcpsdk.CallToolResult, ResolveOutput, error) {
	res := negotiation.Resolution{
		Approved: input.Approve,
		TTL:      time.Duration(input.TTLSeconds) * time.Second,
		Reason:   input.Reason,
	}
	if input.Resource != "" || input.Level != "" {
		res.Scope = model.Scope{
			Resource: input.Resource,
			Level:    model.PermissionLevel(input.Level),
		}
	}

	if err := s.engine.ResolveEscalation(input.CorrelationID, res); err != nil {
		return nil, ResolveOutput{}, err
	}

	status := "denied"
	if input.Approve {
		status = "approved"
	}
	return nil, ResolveOutput{CorrelationID: input.CorrelationID, Status: status}, nil
}

func (s *Server) handlePending(ctx context.Context, req *mcpsdk.CallToolRequest, input PendingInput) (*mcpsdk.CallToolResult, PendingOutput, error) {
	out := PendingOutput{Requests: []PendingItem{}}
	for _, r := range s.engine.PendingEscalations() {
		out.Requests = append(out.Requests, PendingItem{
			CorrelationID: r.CorrelationID,
			Requester:     r.Requester,
			Resource:      r.Scope.Resource,
			Level:         string(r.Scope.Level),
			Justification: r.Justification,
			CreatedAt:     r.CreatedAt.Format(time.RFC3339),
		})
	}
	return nil, out, nil
}

func (s *Server) handleRevoke(ctx context.Context, req *mcpsdk.CallToolRequest, input RevokeInput) (*mcpsdk.CallToolResult, RevokeOutput, error) {
	if err := s.engine.RevokeToken(ctx, input.TokenID); err != nil {
		return nil, RevokeOutput{}, err
	}
	return nil, RevokeOutput{TokenID: input.TokenID, Status: "revoked"}, nil
}
