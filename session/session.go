// Package session defines the contract of an interactive UI session, the
// registry that tracks which session is visible, and a reference in-memory
// implementation.
package session

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// Mode is the planning mode of a session.
type Mode string

const (
	ModePlan Mode = "plan"
	ModeAct  Mode = "act"
)

// SettingMode is the setting key holding the session Mode.
const SettingMode = "mode"

var (
	ErrInvalidMode  = errors.New("invalid mode")
	ErrEmptyMessage = errors.New("message is empty")
)

// ParseMode validates s as a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModePlan, ModeAct:
		return Mode(s), nil
	}
	return "", errors.Wrapf(ErrInvalidMode, "%q", s)
}

// EventType is the kind of a UI event posted to a session.
type EventType string

const (
	EventInvoke EventType = "invoke"
	EventState  EventType = "state"
)

// InvokeKind names the UI action an invoke event triggers.
type InvokeKind string

const (
	InvokeSendMessage          InvokeKind = "sendMessage"
	InvokePrimaryButtonClick   InvokeKind = "primaryButtonClick"
	InvokeSecondaryButtonClick InvokeKind = "secondaryButtonClick"
)

// Event is a message posted to the UI of a session.
type Event struct {
	Type   EventType  `json:"type"`
	Invoke InvokeKind `json:"invoke,omitempty"`
	Text   string     `json:"text,omitempty"`
	State  *State     `json:"state,omitempty"`
}

// Message is one entry of the session conversation.
type Message struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	Ts   time.Time `json:"ts"`
}

// State is a point-in-time snapshot of a session.
type State struct {
	ID                string    `json:"id"`
	Mode              Mode      `json:"mode"`
	Messages          []Message `json:"messages"`
	Authenticated     bool      `json:"authenticated"`
	ProviderConnected bool      `json:"providerConnected"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Session is one interactive UI instance that can receive forwarded commands.
// Implementations must be safe for concurrent use.
type Session interface {
	// ID returns the opaque session identity.
	ID() string
	// HandleMessage delivers an inbound user message.
	HandleMessage(ctx context.Context, text string) error
	// State returns the current snapshot.
	State(ctx context.Context) (State, error)
	// Setting returns a persisted setting.
	Setting(ctx context.Context, key string) (string, bool)
	// UpdateSetting persists a setting.
	UpdateSetting(ctx context.Context, key string, value string) error
	// BroadcastState pushes the current snapshot to the UI.
	BroadcastState(ctx context.Context) error
	// PostEvent posts a UI event.
	PostEvent(ctx context.Context, event Event) error
	// ExchangeProviderCode completes an external provider login.
	ExchangeProviderCode(ctx context.Context, code string) error
	// HandleAuthCallback accepts a token delivered by an auth redirect.
	HandleAuthCallback(ctx context.Context, token string) error
	// ValidateAuthState reports whether state matches an issued anti-forgery value.
	ValidateAuthState(ctx context.Context, state string) (bool, error)
}
