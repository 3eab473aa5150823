package session

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/inoueakimitsu/cline/authentication"
	"github.com/inoueakimitsu/cline/cache"
	"github.com/inoueakimitsu/cline/logger"
)

// DefaultStateTTL is how long an issued anti-forgery state stays valid.
const DefaultStateTTL = 10 * time.Minute

const authStatePrefix = "auth-state:"

// ProviderExchangeFunc completes a provider login for code.
type ProviderExchangeFunc func(ctx context.Context, code string) error

// AuthCallbackFunc accepts a token delivered by an auth redirect.
type AuthCallbackFunc func(ctx context.Context, token string) error

// Instance is an in-memory Session. Mutations are serialized; UI events are
// posted outside the lock.
type Instance struct {
	id       string
	log      logger.Logger
	poster   Poster
	states   cache.Cache
	ownCache bool
	stateTTL time.Duration
	exchange ProviderExchangeFunc
	onAuth   AuthCallbackFunc
	now      func() time.Time

	mu                sync.Mutex
	settings          map[string]string
	messages          []Message
	authenticated     bool
	providerConnected bool
	updatedAt         time.Time
}

var _ Session = (*Instance)(nil)

type InstanceOption func(*Instance)

// WithID sets the session identity. A random UUID is used otherwise.
func WithID(id string) InstanceOption {
	return func(i *Instance) { i.id = id }
}

// WithPoster sets where UI events are delivered.
func WithPoster(p Poster) InstanceOption {
	return func(i *Instance) { i.poster = p }
}

// WithStateStore sets the store for issued anti-forgery states. The caller
// keeps ownership of c.
func WithStateStore(c cache.Cache) InstanceOption {
	return func(i *Instance) { i.states = c }
}

// WithStateTTL sets how long issued anti-forgery states remain valid.
func WithStateTTL(ttl time.Duration) InstanceOption {
	return func(i *Instance) { i.stateTTL = ttl }
}

// WithProviderExchange sets the hook run by ExchangeProviderCode.
func WithProviderExchange(fn ProviderExchangeFunc) InstanceOption {
	return func(i *Instance) { i.exchange = fn }
}

// WithAuthCallback sets the hook run by HandleAuthCallback.
func WithAuthCallback(fn AuthCallbackFunc) InstanceOption {
	return func(i *Instance) { i.onAuth = fn }
}

// NewInstance returns a session in act mode with an empty history.
func NewInstance(ctx context.Context, log logger.Logger, opts ...InstanceOption) *Instance {
	i := &Instance{
		stateTTL: DefaultStateTTL,
		now:      time.Now,
		settings: map[string]string{SettingMode: string(ModeAct)},
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.id == "" {
		i.id = uuid.NewString()
	}
	if i.stateTTL <= 0 {
		i.stateTTL = DefaultStateTTL
	}
	if i.states == nil {
		i.states = cache.NewInMemory(ctx, cache.WithExpires(i.stateTTL), cache.WithExpiryCheck(i.stateTTL))
		i.ownCache = true
	}
	i.log = log.With(map[string]interface{}{"session": i.id})
	if i.poster == nil {
		i.poster = NewLogPoster(log)
	}
	i.updatedAt = i.now()
	return i
}

func (i *Instance) ID() string {
	return i.id
}

// touch must be called with the mutex held.
func (i *Instance) touch() {
	i.updatedAt = i.now()
}

func (i *Instance) HandleMessage(ctx context.Context, text string) error {
	if text == "" {
		return ErrEmptyMessage
	}
	i.mu.Lock()
	i.messages = append(i.messages, Message{Role: "user", Text: text, Ts: i.now()})
	i.touch()
	i.mu.Unlock()
	i.log.Debug("received message (%d bytes)", len(text))
	if err := i.PostEvent(ctx, Event{Type: EventInvoke, Invoke: InvokeSendMessage, Text: text}); err != nil {
		return errors.Wrap(err, "deliver message")
	}
	return nil
}

func (i *Instance) snapshot() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	messages := make([]Message, len(i.messages))
	copy(messages, i.messages)
	return State{
		ID:                i.id,
		Mode:              Mode(i.settings[SettingMode]),
		Messages:          messages,
		Authenticated:     i.authenticated,
		ProviderConnected: i.providerConnected,
		UpdatedAt:         i.updatedAt,
	}
}

func (i *Instance) State(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	return i.snapshot(), nil
}

func (i *Instance) Setting(_ context.Context, key string) (string, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	val, ok := i.settings[key]
	return val, ok
}

func (i *Instance) UpdateSetting(_ context.Context, key string, value string) error {
	if key == SettingMode {
		if _, err := ParseMode(value); err != nil {
			return err
		}
	}
	i.mu.Lock()
	i.settings[key] = value
	i.touch()
	i.mu.Unlock()
	i.log.Debug("setting %s=%s", key, value)
	return nil
}

func (i *Instance) BroadcastState(ctx context.Context) error {
	state := i.snapshot()
	return i.PostEvent(ctx, Event{Type: EventState, State: &state})
}

func (i *Instance) PostEvent(ctx context.Context, event Event) error {
	return i.poster.Post(ctx, i.id, event)
}

func (i *Instance) ExchangeProviderCode(ctx context.Context, code string) error {
	if i.exchange != nil {
		if err := i.exchange(ctx, code); err != nil {
			return errors.Wrap(err, "provider code exchange")
		}
	}
	i.mu.Lock()
	i.providerConnected = true
	i.touch()
	i.mu.Unlock()
	i.log.Info("provider login completed")
	return i.BroadcastState(ctx)
}

func (i *Instance) HandleAuthCallback(ctx context.Context, token string) error {
	if i.onAuth != nil {
		if err := i.onAuth(ctx, token); err != nil {
			return errors.Wrap(err, "auth callback")
		}
	}
	i.mu.Lock()
	i.authenticated = true
	i.touch()
	i.mu.Unlock()
	i.log.Info("authenticated")
	return i.BroadcastState(ctx)
}

// IssueAuthState creates an anti-forgery value for an external redirect.
func (i *Instance) IssueAuthState(ctx context.Context) (string, error) {
	return IssueAuthState(ctx, i.states, i.id, i.stateTTL)
}

// ValidateAuthState consumes state. A state validates at most once.
func (i *Instance) ValidateAuthState(ctx context.Context, state string) (bool, error) {
	if state == "" {
		return false, nil
	}
	found, owner, err := cache.TakeContext[string](ctx, i.states, authStatePrefix+state)
	if err != nil {
		return false, errors.Wrap(err, "lookup auth state")
	}
	return found && authentication.Equal(owner, i.id), nil
}

// Close releases the state store when the instance created it.
func (i *Instance) Close() error {
	if i.ownCache {
		return i.states.Close()
	}
	return nil
}

// IssueAuthState stores a fresh anti-forgery value for sessionID in store.
// It lets a separate process mint states for a session sharing the store.
// A ttl <= 0 means DefaultStateTTL.
func IssueAuthState(ctx context.Context, store cache.Cache, sessionID string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	state, err := authentication.NewState()
	if err != nil {
		return "", errors.Wrap(err, "generate auth state")
	}
	if err := store.Set(ctx, authStatePrefix+state, sessionID, ttl); err != nil {
		return "", errors.Wrap(err, "store auth state")
	}
	return state, nil
}
