package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/inoueakimitsu/cline/cache"
	"github.com/inoueakimitsu/cline/eventing"
	"github.com/inoueakimitsu/cline/logger"
)

// Poster delivers UI events for a session.
type Poster interface {
	Post(ctx context.Context, sessionID string, event Event) error
}

type logPoster struct {
	log logger.Logger
}

// NewLogPoster returns a Poster that writes every event to log.
func NewLogPoster(log logger.Logger) Poster {
	return &logPoster{log: log.WithPrefix("[ui]")}
}

func (p *logPoster) Post(ctx context.Context, sessionID string, event Event) error {
	log := p.log.WithContext(ctx).With(map[string]interface{}{"session": sessionID})
	switch event.Type {
	case EventInvoke:
		if event.Text != "" {
			log.Info("invoke %s: %s", event.Invoke, event.Text)
		} else {
			log.Info("invoke %s", event.Invoke)
		}
	case EventState:
		if event.State != nil {
			log.Debug("state mode=%s messages=%d", event.State.Mode, len(event.State.Messages))
		}
	default:
		log.Debug("event %s", event.Type)
	}
	return nil
}

const (
	eventSubjectPrefix = "cline.session."
	eventSubjectSuffix = ".events"

	// AllEventsSubject matches the event subject of every session.
	AllEventsSubject = eventSubjectPrefix + "*" + eventSubjectSuffix

	// SnapshotTTL bounds how long the last published state stays readable.
	SnapshotTTL = 24 * time.Hour
)

// EventSubject returns the eventing subject UI events for sessionID go to.
func EventSubject(sessionID string) string {
	return fmt.Sprintf("%s%s%s", eventSubjectPrefix, sessionID, eventSubjectSuffix)
}

// EventHandler receives a decoded UI event of sessionID.
type EventHandler func(ctx context.Context, sessionID string, event Event)

// SubscribeEvents delivers the events NewEventingPoster publishes. An empty
// sessionID subscribes to every session.
func SubscribeEvents(ctx context.Context, client eventing.Client, log logger.Logger, sessionID string, handler EventHandler) (eventing.Subscriber, error) {
	subject := AllEventsSubject
	if sessionID != "" {
		subject = EventSubject(sessionID)
	}
	return client.Subscribe(ctx, subject, func(ctx context.Context, msg eventing.Message) {
		var event Event
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			log.Warn("dropping undecodable event on %s: %s", msg.Subject(), err)
			return
		}
		id := strings.TrimSuffix(strings.TrimPrefix(msg.Subject(), eventSubjectPrefix), eventSubjectSuffix)
		handler(ctx, id, event)
	})
}

type eventingPoster struct {
	client eventing.Client
}

// NewEventingPoster returns a Poster that publishes JSON encoded events on
// [EventSubject].
func NewEventingPoster(client eventing.Client) Poster {
	return &eventingPoster{client: client}
}

func (p *eventingPoster) Post(ctx context.Context, sessionID string, event Event) error {
	buf, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	if err := p.client.Publish(ctx, EventSubject(sessionID), buf, eventing.WithHeader("content-type", "application/json")); err != nil {
		return errors.Wrapf(err, "publish %s event", event.Type)
	}
	return nil
}

func snapshotKey(sessionID string) string {
	return "session-state:" + sessionID
}

type snapshotPoster struct {
	store cache.Cache
}

// NewSnapshotPoster returns a Poster that keeps the last state event of each
// session in store, for [LatestState].
func NewSnapshotPoster(store cache.Cache) Poster {
	return &snapshotPoster{store: store}
}

func (p *snapshotPoster) Post(ctx context.Context, sessionID string, event Event) error {
	if event.Type != EventState || event.State == nil {
		return nil
	}
	if err := p.store.Set(ctx, snapshotKey(sessionID), *event.State, SnapshotTTL); err != nil {
		return errors.Wrap(err, "store state snapshot")
	}
	return nil
}

// LatestState returns the last state a snapshot poster stored for sessionID.
func LatestState(ctx context.Context, store cache.Cache, sessionID string) (State, bool, error) {
	found, state, err := cache.GetContext[State](ctx, store, snapshotKey(sessionID))
	if err != nil {
		return State{}, false, errors.Wrap(err, "read state snapshot")
	}
	return state, found, nil
}

type multiPoster []Poster

// NewMultiPoster returns a Poster that posts to each poster in order and
// stops at the first error.
func NewMultiPoster(posters ...Poster) Poster {
	return multiPoster(posters)
}

func (m multiPoster) Post(ctx context.Context, sessionID string, event Event) error {
	for _, p := range m {
		if err := p.Post(ctx, sessionID, event); err != nil {
			return err
		}
	}
	return nil
}
