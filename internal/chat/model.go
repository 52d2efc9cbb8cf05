package chat

import (
	"ephemeral-chat/internal/attachment"
	"ephemeral-chat/internal/composer"
	"ephemeral-chat/internal/conversation"
	"ephemeral-chat/internal/message"
	appErrors "ephemeral-chat/pkg/errors"
)

// ---------------------------------------------
// Websocket commands (browser -> session)
// ---------------------------------------------

type CommandType string

const (
	CmdDraft            CommandType = "draft"
	CmdSelfDestruct     CommandType = "self_destruct"
	CmdSend             CommandType = "send"
	CmdMarkRead         CommandType = "mark_read"
	CmdRecordStart      CommandType = "record_start"
	CmdRecordStop       CommandType = "record_stop"
	CmdRemoveAttachment CommandType = "remove_attachment"
	CmdMoveAttachment   CommandType = "move_attachment"
	CmdCaption          CommandType = "caption"
)

// Command is a JSON text frame sent by the browser. Voice chunks travel as
// binary frames instead.
type Command struct {
	Type         CommandType `json:"type"`
	Text         string      `json:"text,omitempty"`
	Enabled      bool        `json:"enabled,omitempty"`
	Seconds      int         `json:"seconds,omitempty"`
	AttachmentID string      `json:"attachment_id,omitempty"`
	Delta        int         `json:"delta,omitempty"`
}

// ---------------------------------------------
// Websocket events (session -> browser)
// ---------------------------------------------

type EventType string

const (
	EvtMessages   EventType = "messages"
	EvtAttachment EventType = "attachment"
	EvtDraft      EventType = "draft"
	EvtSent       EventType = "sent"
	EvtRead       EventType = "read"
	EvtError      EventType = "error"
)

type Event struct {
	Type       EventType              `json:"type"`
	Messages   []conversation.View    `json:"messages,omitempty"`
	Attachment *attachment.Attachment `json:"attachment,omitempty"`
	Draft      *composer.State        `json:"draft,omitempty"`
	Sent       []message.Message      `json:"sent,omitempty"`
	Updated    int                    `json:"updated,omitempty"`
	Error      *ErrorPayload          `json:"error,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorEvent(err error) Event {
	code := appErrors.CodeOf(err)
	if code == appErrors.CodeUnknown {
		code = appErrors.CodeInternal
	}
	return Event{Type: EvtError, Error: &ErrorPayload{Code: string(code), Message: appErrors.MessageOf(err)}}
}
