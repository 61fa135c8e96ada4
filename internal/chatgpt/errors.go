package chatgpt

import (
	"errors"
	"fmt"
	"strings"
)

// Kind names a class of failure. Kinds are wire-visible: tool responses
// carry them in the {error, kind} shape.
type Kind string

const (
	KindConfig                  Kind = "config"
	KindLoginRequired           Kind = "login_required"
	KindSessionExpired          Kind = "session_expired"
	KindLoggedOut               Kind = "logged_out"
	KindConversationUnavailable Kind = "conversation_unavailable"
	KindSomethingWrong          Kind = "something_went_wrong"
	KindWorkspaceUnresolved     Kind = "workspace_unresolved"
	KindControlNotFound         Kind = "control_not_found"
	KindBackendUnavailable      Kind = "backend_unavailable"
	KindTimeout                 Kind = "timeout"
	KindNotFound                Kind = "not_found"
	KindInternal                Kind = "internal"
)

// Error is a classified failure. Op is a stable, greppable prefix naming
// the failing operation.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error

	// Partial progress captured before a timeout; not discarded silently.
	PartialText    string
	ConversationID string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the error kind, defaulting to internal.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}

// timeoutError builds the terminal timeout kind, carrying whatever partial
// text and conversation id were captured when the deadline elapsed.
func timeoutError(op, partialText, conversationID string) *Error {
	return &Error{
		Kind:           KindTimeout,
		Op:             op,
		Message:        "deadline elapsed",
		PartialText:    partialText,
		ConversationID: conversationID,
	}
}

// Crash-signal substrings identifying transient backend failures. These are
// retried with a browser restart in between; everything else is surfaced
// as-is.
var crashSignals = []string{
	"tab crashed",
	"target closed",
	"session closed",
	"browser has been closed",
	"connection refused",
	"websocket: close",
	"context canceled unexpectedly",
}

// IsTransient reports whether the error looks like a backend crash that a
// restart may heal.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range crashSignals {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

func wrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
