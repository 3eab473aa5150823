package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/inoueakimitsu/cline/logger"
	"github.com/inoueakimitsu/cline/session"
	"github.com/inoueakimitsu/cline/sys"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "test-token"

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *Error          `json:"error"`
}

type fixture struct {
	server   *Server
	registry *session.Registry
	poster   *session.RecordingPoster
	instance *session.Instance
	log      *logger.TestLogger
}

func newFixture(t *testing.T, visible bool, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		registry: session.NewRegistry(),
		poster:   session.NewRecordingPoster(),
		log:      logger.NewTestLogger(),
	}
	f.instance = session.NewInstance(context.Background(), f.log, session.WithPoster(f.poster))
	t.Cleanup(func() { f.instance.Close() })
	if visible {
		f.registry.SetVisible(f.instance)
	}
	s, err := NewServer(f.log, f.registry, append([]Option{WithToken(testToken)}, opts...)...)
	require.NoError(t, err)
	f.server = s
	return f
}

type reqOpt func(*http.Request)

func withToken(token string) reqOpt {
	return func(r *http.Request) { r.Header.Set("x-cli-token", token) }
}

func withContentType(ct string) reqOpt {
	return func(r *http.Request) { r.Header.Set("Content-Type", ct) }
}

func (f *fixture) do(method, path, body string, opts ...reqOpt) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

// authed sends a request with a valid token and JSON content type.
func (f *fixture) authed(method, path, body string) *httptest.ResponseRecorder {
	return f.do(method, path, body, withToken(testToken), withContentType("application/json"))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func assertCommonHeaders(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	h := rec.Header()
	assert.Equal(t, "*", h.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", h.Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type, x-cli-token", h.Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "x-api-version", h.Get("Access-Control-Expose-Headers"))
	assert.Equal(t, "1.0", h.Get("x-api-version"))
}

func assertError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	assert.Equal(t, status, rec.Code, rec.Body.String())
	assertCommonHeaders(t, rec)
	env := decode(t, rec)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, code, env.Error.Code)
	assert.NotEmpty(t, env.Error.Message)
	assert.Empty(t, env.Data)
}

func assertOK(t *testing.T, rec *httptest.ResponseRecorder) json.RawMessage {
	t.Helper()
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assertCommonHeaders(t, rec)
	env := decode(t, rec)
	assert.True(t, env.Success)
	assert.Nil(t, env.Error)
	require.NotEmpty(t, env.Data)
	return env.Data
}

func TestNewServerRejectsNonLoopback(t *testing.T) {
	_, err := NewServer(logger.NewTestLogger(), session.NewRegistry(), WithToken("x"), WithHost("0.0.0.0"))
	assert.ErrorIs(t, err, sys.ErrNonLoopbackHost)

	_, err = NewServer(logger.NewTestLogger(), session.NewRegistry(), WithToken(""))
	assert.Error(t, err)

	_, err = NewServer(logger.NewTestLogger(), session.NewRegistry(), WithToken("x"), WithPort(70000))
	assert.Error(t, err)
}

func TestPreflight(t *testing.T) {
	f := newFixture(t, true)
	for _, path := range []string{"/v1/messages", "/nope", "/"} {
		for _, opts := range [][]reqOpt{nil, {withToken("wrong")}, {withToken(testToken)}} {
			rec := f.do(http.MethodOptions, path, "", opts...)
			assert.Equal(t, http.StatusNoContent, rec.Code)
			assert.Empty(t, rec.Body.String())
			assertCommonHeaders(t, rec)
		}
	}
}

func TestContentTypeCheckedBeforeAuth(t *testing.T) {
	f := newFixture(t, true)
	paths := []string{"/v1/messages", "/v1/mode/plan", "/v1/mode/act", "/v1/buttons/primary", "/v1/buttons/secondary"}
	for _, path := range paths {
		for _, ct := range []string{"", "text/plain", "application/x-www-form-urlencoded"} {
			opts := []reqOpt{withToken(testToken)}
			if ct != "" {
				opts = append(opts, withContentType(ct))
			}
			assertError(t, f.do(http.MethodPost, path, `{"message":"hi"}`, opts...), http.StatusUnsupportedMediaType, CodeInvalidContentType)
		}
	}
	assert.Empty(t, f.poster.Events())
}

func TestContentTypeWithCharset(t *testing.T) {
	f := newFixture(t, true)
	rec := f.do(http.MethodPost, "/v1/messages", `{"message":"hi"}`, withToken(testToken), withContentType("application/json; charset=utf-8"))
	assertOK(t, rec)
}

func TestUnauthorized(t *testing.T) {
	f := newFixture(t, true)
	for _, opts := range [][]reqOpt{
		{withContentType("application/json")},
		{withContentType("application/json"), withToken("wrong")},
		{withContentType("application/json"), withToken(testToken + "x")},
	} {
		assertError(t, f.do(http.MethodPost, "/v1/messages", `{"message":"hi"}`, opts...), http.StatusUnauthorized, CodeUnauthorized)
		assertError(t, f.do(http.MethodGet, "/v1/messages", "", opts...), http.StatusUnauthorized, CodeUnauthorized)
	}
	assert.Empty(t, f.poster.Events())
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t, true)
	for _, body := range []string{"{}", "", "not json", `{"message":""}`, `{"message":42}`, `{"message":"hi"} trailing`, `{"message":"a"}{"message":"b"}`} {
		assertError(t, f.authed(http.MethodPost, "/v1/messages", body), http.StatusBadRequest, CodeInvalidRequest)
	}
	large := `{"message":"` + strings.Repeat("a", MaxBodyBytes) + `"}`
	assertError(t, f.authed(http.MethodPost, "/v1/messages", large), http.StatusBadRequest, CodeInvalidRequest)
	assert.Empty(t, f.poster.Events())
}

func TestSendMessageNoSession(t *testing.T) {
	f := newFixture(t, false)
	assertError(t, f.authed(http.MethodPost, "/v1/messages", `{"message":"hi"}`), http.StatusServiceUnavailable, CodeServiceUnavailable)
	assert.Empty(t, f.poster.Events())
}

func TestSendMessage(t *testing.T) {
	f := newFixture(t, true)
	data := assertOK(t, f.authed(http.MethodPost, "/v1/messages", `{"message":"hi"}`))
	assert.JSONEq(t, `{"message":"Message sent successfully"}`, string(data))

	invokes := f.poster.Invokes(session.InvokeSendMessage)
	require.Len(t, invokes, 1)
	assert.Equal(t, "hi", invokes[0].Text)
}

func TestSendMessageWhitespaceIsForwarded(t *testing.T) {
	f := newFixture(t, true)
	assertOK(t, f.authed(http.MethodPost, "/v1/messages", `{"message":"   "}`))
	invokes := f.poster.Invokes(session.InvokeSendMessage)
	require.Len(t, invokes, 1)
	assert.Equal(t, "   ", invokes[0].Text)
}

func TestSendMessageDownstreamFailure(t *testing.T) {
	f := newFixture(t, true)
	f.poster.SetErr(errors.New("webview disposed"))
	assertError(t, f.authed(http.MethodPost, "/v1/messages", `{"message":"hi"}`), http.StatusInternalServerError, CodeCommandExecutionError)
	assert.True(t, f.log.Contains("ERROR", "webview disposed"))
}

func TestGetMessages(t *testing.T) {
	f := newFixture(t, false)
	assertError(t, f.authed(http.MethodGet, "/v1/messages", ""), http.StatusServiceUnavailable, CodeServiceUnavailable)

	f.registry.SetVisible(f.instance)
	require.NoError(t, f.instance.HandleMessage(context.Background(), "hello"))
	data := assertOK(t, f.do(http.MethodGet, "/v1/messages", "", withToken(testToken)))
	var state session.State
	require.NoError(t, json.Unmarshal(data, &state))
	assert.Equal(t, f.instance.ID(), state.ID)
	assert.Equal(t, session.ModeAct, state.Mode)
	require.Len(t, state.Messages, 1)
	assert.Equal(t, "hello", state.Messages[0].Text)
}

func TestModeSwitch(t *testing.T) {
	f := newFixture(t, true)
	data := assertOK(t, f.authed(http.MethodPost, "/v1/mode/plan", ""))
	assert.JSONEq(t, `{"mode":"plan"}`, string(data))

	data = assertOK(t, f.authed(http.MethodGet, "/v1/messages", ""))
	var state map[string]any
	require.NoError(t, json.Unmarshal(data, &state))
	assert.Equal(t, "plan", state["mode"])

	events := f.poster.Events()
	require.Len(t, events, 1)
	assert.Equal(t, session.EventState, events[0].Type)

	data = assertOK(t, f.authed(http.MethodPost, "/v1/mode/act", ""))
	assert.JSONEq(t, `{"mode":"act"}`, string(data))
	mode, _ := f.instance.Setting(context.Background(), session.SettingMode)
	assert.Equal(t, "act", mode)
}

func TestModeSwitchNoSession(t *testing.T) {
	f := newFixture(t, false)
	assertError(t, f.authed(http.MethodPost, "/v1/mode/plan", ""), http.StatusServiceUnavailable, CodeServiceUnavailable)
	assertError(t, f.authed(http.MethodPost, "/v1/mode/act", ""), http.StatusServiceUnavailable, CodeServiceUnavailable)
}

func TestModeSwitchBroadcastFailure(t *testing.T) {
	f := newFixture(t, true)
	f.poster.SetErr(errors.New("broadcast failed"))
	assertError(t, f.authed(http.MethodPost, "/v1/mode/plan", ""), http.StatusInternalServerError, CodeCommandExecutionError)
}

func TestButtons(t *testing.T) {
	f := newFixture(t, true)
	data := assertOK(t, f.authed(http.MethodPost, "/v1/buttons/primary", ""))
	assert.JSONEq(t, `{"message":"Primary button clicked successfully"}`, string(data))
	data = assertOK(t, f.authed(http.MethodPost, "/v1/buttons/secondary", ""))
	assert.JSONEq(t, `{"message":"Secondary button clicked successfully"}`, string(data))

	assert.Len(t, f.poster.Invokes(session.InvokePrimaryButtonClick), 1)
	assert.Len(t, f.poster.Invokes(session.InvokeSecondaryButtonClick), 1)

	f.poster.SetErr(errors.New("no button"))
	assertError(t, f.authed(http.MethodPost, "/v1/buttons/primary", ""), http.StatusInternalServerError, CodeButtonClickError)

	f.registry.ClearVisible(f.instance)
	assertError(t, f.authed(http.MethodPost, "/v1/buttons/secondary", ""), http.StatusServiceUnavailable, CodeServiceUnavailable)
}

func TestUnknownRoutes(t *testing.T) {
	f := newFixture(t, true)
	cases := []struct {
		method string
		path   string
	}{
		{http.MethodDelete, "/v1/messages"},
		{http.MethodPut, "/v1/messages"},
		{http.MethodGet, "/v1/mode/plan"},
		{http.MethodPost, "/v1/unknown"},
		{http.MethodGet, "/"},
		{http.MethodPatch, "/v1/buttons/primary"},
		{http.MethodPost, "/v1"},
		{http.MethodGet, "/v1"},
		{http.MethodGet, "/v1/"},
		{http.MethodPost, "/v1/"},
		{http.MethodPost, "/v1/mode"},
	}
	combos := [][]reqOpt{
		nil,
		{withToken(testToken)},
		{withToken("wrong")},
		{withContentType("text/plain")},
		{withToken(testToken), withContentType("application/json")},
		{withToken("wrong"), withContentType("application/json")},
	}
	for _, tc := range cases {
		for _, opts := range combos {
			assertError(t, f.do(tc.method, tc.path, "", opts...), http.StatusNotFound, CodeNotFound)
		}
	}
	assert.Empty(t, f.poster.Events())
}

type panicSession struct {
	session.Session
}

func (panicSession) ID() string { return "panic" }

func (panicSession) State(context.Context) (session.State, error) {
	panic("state exploded")
}

type brokenSession struct {
	session.Session
}

func (brokenSession) ID() string { return "broken" }

func (brokenSession) State(context.Context) (session.State, error) {
	return session.State{}, errors.New("snapshot unavailable")
}

func TestPanicRecovered(t *testing.T) {
	f := newFixture(t, false)
	f.registry.SetVisible(panicSession{})
	assertError(t, f.authed(http.MethodGet, "/v1/messages", ""), http.StatusInternalServerError, CodeInternalServerError)
	assert.True(t, f.log.Contains("ERROR", "state exploded"))

	f.registry.SetVisible(brokenSession{})
	assertError(t, f.authed(http.MethodGet, "/v1/messages", ""), http.StatusInternalServerError, CodeCommandExecutionError)
}

func TestAuthRateLimit(t *testing.T) {
	f := newFixture(t, true, WithAuthRateLimit(0.001, 2))
	bad := []reqOpt{withToken("wrong")}
	assertError(t, f.do(http.MethodGet, "/v1/messages", "", bad...), http.StatusUnauthorized, CodeUnauthorized)
	assertError(t, f.do(http.MethodGet, "/v1/messages", "", bad...), http.StatusUnauthorized, CodeUnauthorized)
	assertError(t, f.do(http.MethodGet, "/v1/messages", "", bad...), http.StatusTooManyRequests, CodeTooManyRequests)

	assertOK(t, f.authed(http.MethodGet, "/v1/messages", ""))
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := newFixture(t, true, WithMetricsRegisterer(reg))
	f.authed(http.MethodPost, "/v1/buttons/primary", "")
	f.do(http.MethodGet, "/v1/messages", "")
	f.do(http.MethodDelete, "/v1/messages", "")

	assert.Equal(t, float64(1), testutil.ToFloat64(f.server.metrics.requests.WithLabelValues("POST", "/v1/buttons/primary", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.server.metrics.requests.WithLabelValues("GET", "/v1/messages", "401")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.server.metrics.requests.WithLabelValues("DELETE", unmatchedRoute, "404")))

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "cline_control_requests_total")
	assert.Contains(t, names, "cline_control_request_duration_seconds")
}

func TestStartServesOnLoopback(t *testing.T) {
	f := newFixture(t, true, WithPort(0), WithReadTimeout(5*time.Second))
	require.NoError(t, f.server.Start(context.Background()))
	defer f.server.Close(context.Background())

	addr := f.server.Addr()
	require.NotNil(t, addr)
	assert.True(t, sys.IsLoopbackHost(addr.String()))
	assert.ErrorIs(t, f.server.Start(context.Background()), ErrAlreadyStarted)

	req, err := http.NewRequest(http.MethodPost, "http://"+addr.String()+"/v1/buttons/secondary", nil)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-cli-token", testToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1.0", resp.Header.Get("x-api-version"))
}

func TestStartBindFailure(t *testing.T) {
	first := newFixture(t, true, WithPort(0))
	require.NoError(t, first.server.Start(context.Background()))
	defer first.server.Close(context.Background())

	port := first.server.Addr().(*net.TCPAddr).Port
	second := newFixture(t, true, WithPort(port))
	err := second.server.Start(context.Background())
	assert.Error(t, err)
	assert.Nil(t, second.server.Addr())
	assert.NoError(t, second.server.Close(context.Background()))
}
