package relay

import (
	"encoding/json"
	"errors"
	"fmt"

	"paintwithchat/internal/core/domain"
)

// Inbound event types.
const (
	EventStreamerJoin    = "streamer:join"
	EventViewerJoin      = "viewer:join"
	EventParticipantJoin = "participant:join"
	EventUserJoin        = "user:join"
	EventLeave           = "leave"
	EventUserLeave       = "user:leave"
	EventDrawingStart    = "drawing:start"
	EventDrawingMove     = "drawing:move"
	EventDrawingEnd      = "drawing:end"
	EventCanvasClear     = "canvas:clear"
	EventDrawingUndo     = "drawing:undo"
)

// Outbound event types.
const (
	EventSessionUpdated    = "session:updated"
	EventParticipantJoined = "participant:joined"
	EventParticipantLeft   = "participant:left"
	EventDrawerChanged     = "drawer:changed"
	EventStrokeStart       = "drawing:stroke-start"
	EventStrokeMove        = "drawing:stroke-move"
	EventStrokeEnd         = "drawing:stroke-end"
	EventDrawingLoad       = "drawing:load"
	EventCanvasCleared     = "canvas:cleared"
	EventDrawingUndone     = "drawing:undone"
	EventError             = "error"
)

var (
	ErrBadPayload   = errors.New("bad payload")
	ErrUnknownEvent = errors.New("unknown event")
	ErrRateLimited  = errors.New("rate limit exceeded")
	ErrHubClosed    = errors.New("relay is shutting down")
)

// Frame is one encoded outbound message.
type Frame []byte

// Message is the envelope of every inbound frame.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type joinPayload struct {
	SessionID  domain.SessionID `json:"sessionId"`
	Token      string           `json:"token"`
	Credential string           `json:"credential"`
}

func (p joinPayload) credential() string {
	if p.Token != "" {
		return p.Token
	}
	return p.Credential
}

type startPayload struct {
	Point *domain.Point `json:"point"`
	Color string        `json:"color"`
	Size  float64       `json:"size"`
}

type movePayload struct {
	Point *domain.Point `json:"point"`
}

type sessionUpdatedPayload struct {
	Session domain.SessionUpdate `json:"session"`
}

type participantJoinedPayload struct {
	Participant domain.Participant `json:"participant"`
}

type participantLeftPayload struct {
	UserID domain.UserID `json:"userId"`
}

type drawerChangedPayload struct {
	DrawerID domain.UserID `json:"drawerId"`
	Username string        `json:"username"`
}

type strokeStartPayload struct {
	AuthorID domain.UserID `json:"userId"`
	Point    domain.Point  `json:"point"`
	Color    string        `json:"color"`
	Size     float64       `json:"size"`
}

type strokeMovePayload struct {
	AuthorID domain.UserID `json:"userId"`
	Point    domain.Point  `json:"point"`
}

type strokeEndPayload struct {
	AuthorID domain.UserID          `json:"userId"`
	Stroke   domain.FinalizedStroke `json:"stroke"`
}

type drawingLoadPayload struct {
	Strokes []domain.FinalizedStroke `json:"strokes"`
}

type drawingUndonePayload struct {
	StrokeID domain.StrokeID `json:"strokeId"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// Encode builds an outbound frame. A nil payload is sent as {}.
func Encode(eventType string, payload any) (Frame, error) {
	if payload == nil {
		payload = struct{}{}
	}
	b, err := json.Marshal(envelope{Type: eventType, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", eventType, err)
	}
	return b, nil
}

// DecodeMessage parses one inbound frame.
func DecodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrBadPayload)
	}
	return msg, nil
}

func decodePayload(msg Message, v any) error {
	if len(msg.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return nil
}

// clientErrors are reported to clients by their own text; anything else is
// reported as an internal error.
var clientErrors = []error{
	domain.ErrSessionNotFound,
	domain.ErrNotAuthorized,
	domain.ErrInvalidCredential,
	domain.ErrStorageFailure,
	domain.ErrNotJoined,
	ErrBadPayload,
	ErrUnknownEvent,
	ErrRateLimited,
	ErrHubClosed,
}

// ErrorMessage maps err onto the text sent in an error frame.
func ErrorMessage(err error) string {
	for _, known := range clientErrors {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "internal error"
}

// ErrorFrame encodes err as a private error event.
func ErrorFrame(err error) Frame {
	frame, encErr := Encode(EventError, errorPayload{Message: ErrorMessage(err)})
	if encErr != nil {
		return Frame(`{"type":"error","payload":{"message":"internal error"}}`)
	}
	return frame
}
