// Package callback routes custom URI-scheme invocations (OAuth style
// redirects) into the visible session.
package callback

import (
	"context"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/inoueakimitsu/cline/logger"
	"github.com/inoueakimitsu/cline/session"
)

const (
	PathProviderOAuth = "/provider-oauth"
	PathAuth          = "/auth"
)

var (
	ErrInvalidState   = errors.New("invalid auth state")
	ErrMalformedQuery = errors.New("malformed callback query")
)

// Event is one parsed URI invocation.
type Event struct {
	Path  string
	Query url.Values
}

// ParseQuery decodes a raw query string keeping literal '+' characters,
// which the host delivers unescaped. Malformed pairs are skipped; the values
// that did parse are returned with the first error.
func ParseQuery(rawQuery string) (url.Values, error) {
	return url.ParseQuery(strings.ReplaceAll(rawQuery, "+", "%2B"))
}

// ParseURI parses a full callback URI such as
// "vscode://ext.id/auth?token=T&state=S" into an Event. When only the query
// is malformed the returned Event carries the pairs that did parse and the
// error is ErrMalformedQuery.
func ParseURI(raw string) (Event, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Event{}, errors.Wrap(err, "parse callback uri")
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	query, err := ParseQuery(u.RawQuery)
	event := Event{Path: path, Query: query}
	if err != nil {
		return event, errors.Wrapf(ErrMalformedQuery, "%s", err)
	}
	return event, nil
}

// Notifier surfaces user-visible errors.
type Notifier interface {
	ShowError(ctx context.Context, message string)
}

type logNotifier struct {
	log logger.Logger
}

// NewLogNotifier returns a Notifier that reports errors to log.
func NewLogNotifier(log logger.Logger) Notifier {
	return &logNotifier{log: log}
}

func (n *logNotifier) ShowError(_ context.Context, message string) {
	n.log.Error("%s", message)
}

// Router dispatches callback events by path.
type Router struct {
	logger   logger.Logger
	sessions session.Visibility
	notifier Notifier
}

// NewRouter returns a Router delivering into the visible session of sessions.
func NewRouter(log logger.Logger, sessions session.Visibility, notifier Notifier) *Router {
	if notifier == nil {
		notifier = NewLogNotifier(log)
	}
	return &Router{
		logger:   log.WithPrefix("[callback]"),
		sessions: sessions,
		notifier: notifier,
	}
}

// Handle parses raw and dispatches it.
func (r *Router) Handle(ctx context.Context, raw string) error {
	event, err := ParseURI(raw)
	if errors.Is(err, ErrMalformedQuery) {
		r.logger.Warn("callback query partly malformed: %s", err)
	} else if err != nil {
		r.logger.Error("ignoring callback: %s", err)
		return err
	}
	return r.Dispatch(ctx, event)
}

// Dispatch applies event to the visible session. Without a visible session
// it does nothing. Errors are logged before being returned.
func (r *Router) Dispatch(ctx context.Context, event Event) error {
	sess, ok := r.sessions.Visible()
	if !ok {
		r.logger.Debug("no visible session, dropping callback %s", event.Path)
		return nil
	}
	switch event.Path {
	case PathProviderOAuth:
		return r.providerOAuth(ctx, sess, event.Query)
	case PathAuth:
		return r.auth(ctx, sess, event.Query)
	}
	r.logger.Debug("ignoring callback with unknown path %s", event.Path)
	return nil
}

func (r *Router) providerOAuth(ctx context.Context, sess session.Session, query url.Values) error {
	code := query.Get("code")
	if code == "" {
		return nil
	}
	if err := sess.ExchangeProviderCode(ctx, code); err != nil {
		r.logger.Error("provider code exchange failed for session %s: %s", sess.ID(), err)
		return err
	}
	return nil
}

func (r *Router) auth(ctx context.Context, sess session.Session, query url.Values) error {
	valid, err := sess.ValidateAuthState(ctx, query.Get("state"))
	if err != nil {
		r.logger.Error("auth state validation failed for session %s: %s", sess.ID(), err)
		r.notifier.ShowError(ctx, "Sign in failed: could not verify the authentication state.")
		return errors.WithSecondaryError(errors.Wrap(ErrInvalidState, "validate auth state"), err)
	}
	if !valid {
		r.logger.Warn("rejected auth callback with invalid state for session %s", sess.ID())
		r.notifier.ShowError(ctx, "Sign in failed: invalid authentication state. Please try again.")
		return ErrInvalidState
	}
	token := query.Get("token")
	if token == "" {
		return nil
	}
	if err := sess.HandleAuthCallback(ctx, token); err != nil {
		r.logger.Error("auth callback failed for session %s: %s", sess.ID(), err)
		return err
	}
	return nil
}
