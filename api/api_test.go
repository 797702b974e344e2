package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"passlog/config"
	"passlog/events"
	"passlog/ingest"
	"passlog/pager"
	"passlog/store"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type testAPI struct {
	store   *store.Store
	broker  *events.Broker
	service *ingest.Service
	handler http.Handler
}

func newTestAPI(t *testing.T, heartbeat time.Duration) *testAPI {
	t.Helper()
	broker := events.NewBroker(16)
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "api.db"), store.Options{Publisher: broker})
	require.NoError(t, err)
	t.Cleanup(func() {
		broker.Close()
		st.Close()
	})

	svc := ingest.NewService(st, ingest.Options{})
	srv := NewServer(st, pager.New(st, 2, 10), svc, broker, heartbeat)
	return &testAPI{
		store:   st,
		broker:  broker,
		service: svc,
		handler: srv.Handler(config.CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE"},
		}),
	}
}

func (a *testAPI) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	resp := httptest.NewRecorder()
	a.handler.ServeHTTP(resp, req)
	return resp
}

func decode[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &v), resp.Body.String())
	return v
}

func TestGet_UnknownIDIsEmpty404(t *testing.T) {
	a := newTestAPI(t, time.Minute)

	for _, path := range []string{
		"/v1/suites/nope",
		"/v1/suites/nope/cases",
		"/v1/suites/nope/summary",
		"/v1/cases/nope",
		"/v1/cases/nope/logs",
		"/v1/logs/nope",
		"/v1/attachments/nope",
	} {
		resp := a.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, resp.Code, path)
		assert.Empty(t, resp.Body.String(), path)
	}
}

func TestListSuites_Pages(t *testing.T) {
	a := newTestAPI(t, time.Minute)

	var ids []string
	for range 3 {
		resp := a.do(t, http.MethodPost, "/v1/suites", "")
		require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
		ids = append(ids, decode[store.Suite](t, resp).ID)
	}

	resp := a.do(t, http.MethodGet, "/v1/suites", "")
	require.Equal(t, http.StatusOK, resp.Code)
	first := decode[pager.Page](t, resp)
	assert.True(t, first.More)
	require.Len(t, first.Suites, 2)
	assert.Equal(t, ids[0], first.Suites[0].ID)

	resp = a.do(t, http.MethodGet, "/v1/suites?after="+first.Suites[1].ID, "")
	require.Equal(t, http.StatusOK, resp.Code)
	second := decode[pager.Page](t, resp)
	assert.False(t, second.More)
	require.Len(t, second.Suites, 1)
	assert.Equal(t, ids[2], second.Suites[0].ID)

	resp = a.do(t, http.MethodGet, "/v1/suites?limit=5", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, decode[pager.Page](t, resp).Suites, 3)

	resp = a.do(t, http.MethodGet, "/v1/suites?after=missing", "")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestListSuites_BadQuery(t *testing.T) {
	a := newTestAPI(t, time.Minute)

	for _, q := range []string{"limit=abc", "limit=0", "deleted=maybe", "watch=sometimes"} {
		resp := a.do(t, http.MethodGet, "/v1/suites?"+q, "")
		assert.Equal(t, http.StatusBadRequest, resp.Code, q)
	}
}

func TestSuiteLifecycleOverHTTP(t *testing.T) {
	a := newTestAPI(t, time.Minute)

	resp := a.do(t, http.MethodPost, "/v1/suites", `{"name":"nightly","tags":["ui"]}`)
	require.Equal(t, http.StatusCreated, resp.Code)
	suite := decode[store.Suite](t, resp)
	assert.Equal(t, int64(1), suite.Version)

	resp = a.do(t, http.MethodPost, "/v1/cases", `{"suite_id":"`+suite.ID+`","args":{"b":[1,2],"a":null}}`)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	c := decode[store.Case](t, resp)
	assert.Equal(t, int64(0), c.Idx)

	resp = a.do(t, http.MethodPatch, "/v1/cases/"+c.ID, `{"version":1,"result":"passed"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code, "result without finishing")

	resp = a.do(t, http.MethodPatch, "/v1/cases/"+c.ID, `{"version":1,"status":"started"}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = a.do(t, http.MethodPatch, "/v1/cases/"+c.ID, `{"version":1,"status":"finished","result":"passed"}`)
	assert.Equal(t, http.StatusConflict, resp.Code, "stale version")

	resp = a.do(t, http.MethodPatch, "/v1/cases/"+c.ID, `{"version":2,"status":"finished","result":"passed"}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = a.do(t, http.MethodPatch, "/v1/suites/"+suite.ID, `{"version":1,"status":"finished","result":"passed"}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	suite = decode[store.Suite](t, resp)
	assert.NotNil(t, suite.FinishedAt)

	resp = a.do(t, http.MethodGet, "/v1/suites/"+suite.ID+"/summary", "")
	require.Equal(t, http.StatusOK, resp.Code)
	summary := decode[store.SuiteSummary](t, resp)
	assert.Equal(t, 1, summary.Cases)

	resp = a.do(t, http.MethodDelete, "/v1/suites/"+suite.ID+"?version=1", "")
	assert.Equal(t, http.StatusConflict, resp.Code)

	resp = a.do(t, http.MethodDelete, "/v1/suites/"+suite.ID+"?version=2", "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.True(t, decode[store.Suite](t, resp).Deleted)

	resp = a.do(t, http.MethodGet, "/v1/suites", "")
	assert.Empty(t, decode[pager.Page](t, resp).Suites)
	resp = a.do(t, http.MethodGet, "/v1/suites?deleted=true", "")
	assert.Len(t, decode[pager.Page](t, resp).Suites, 1)
}

func TestCreateCase_NullArgsOverHTTP(t *testing.T) {
	a := newTestAPI(t, time.Minute)

	resp := a.do(t, http.MethodPost, "/v1/cases", `{"args":null}`)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	assert.Contains(t, resp.Body.String(), `"args":null`)
	id := decode[store.Case](t, resp).ID

	resp = a.do(t, http.MethodGet, "/v1/cases/"+id, "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"args":null`)
}

func TestWrite_MalformedBody(t *testing.T) {
	a := newTestAPI(t, time.Minute)

	resp := a.do(t, http.MethodPost, "/v1/suites", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = a.do(t, http.MethodPatch, "/v1/suites/x", `{"status":"finished"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code, "missing version")

	resp = a.do(t, http.MethodPost, "/v1/attachments", `{"suite_id":"s","case_id":"c","filename":"a.png","content_type":"image/png","size":1}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code, "two parents")

	resp = a.do(t, http.MethodPost, "/v1/cases", `{"tags":"ui"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code, "tags must be a list")
}

func TestLogLines_PagesAndOrdering(t *testing.T) {
	a := newTestAPI(t, time.Minute)
	ctx := context.Background()

	c, err := a.service.CreateCase(ctx, ingest.CreateCaseRequest{})
	require.NoError(t, err)

	for i := range 3 {
		resp := a.do(t, http.MethodPost, "/v1/cases/"+c.ID+"/logs", `{"level":"info","message":"line"}`)
		require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
		assert.Equal(t, int64(i), decode[store.LogLine](t, resp).Idx)
	}

	resp := a.do(t, http.MethodPost, "/v1/cases/"+c.ID+"/logs", `{"idx":7,"level":"info"}`)
	assert.Equal(t, http.StatusConflict, resp.Code)

	resp = a.do(t, http.MethodGet, "/v1/cases/"+c.ID+"/logs?limit=2", "")
	require.Equal(t, http.StatusOK, resp.Code)
	page := decode[LogPage](t, resp)
	assert.True(t, page.More)
	require.Len(t, page.Lines, 2)

	resp = a.do(t, http.MethodGet, "/v1/cases/"+c.ID+"/logs?after=1", "")
	require.Equal(t, http.StatusOK, resp.Code)
	page = decode[LogPage](t, resp)
	assert.False(t, page.More)
	require.Len(t, page.Lines, 1)
	assert.Equal(t, int64(2), page.Lines[0].Idx)

	resp = a.do(t, http.MethodGet, "/v1/logs/"+page.Lines[0].ID, "")
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestAttachmentsOverHTTP(t *testing.T) {
	a := newTestAPI(t, time.Minute)
	ctx := context.Background()

	suite, err := a.service.StartSuite(ctx, ingest.StartSuiteRequest{})
	require.NoError(t, err)

	resp := a.do(t, http.MethodPost, "/v1/attachments", `{"suite_id":"`+suite.ID+`","filename":"run.log","content_type":"text/plain","size":12}`)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	att := decode[store.Attachment](t, resp)

	resp = a.do(t, http.MethodGet, "/v1/attachments?suite="+suite.ID, "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, decode[[]*store.Attachment](t, resp), 1)

	resp = a.do(t, http.MethodDelete, "/v1/attachments/"+att.ID, "")
	require.Equal(t, http.StatusOK, resp.Code)

	resp = a.do(t, http.MethodGet, "/v1/attachments?suite="+suite.ID, "")
	assert.Empty(t, decode[[]*store.Attachment](t, resp))
	resp = a.do(t, http.MethodGet, "/v1/attachments?suite="+suite.ID+"&deleted=true", "")
	assert.Len(t, decode[[]*store.Attachment](t, resp), 1)
}

func TestCORS(t *testing.T) {
	a := newTestAPI(t, time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/v1/suites", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	resp := httptest.NewRecorder()
	a.handler.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "*", resp.Header().Get("Access-Control-Allow-Origin"))
}

type sseEvent struct {
	name string
	data string
}

func readEvents(r *bufio.Reader, out chan<- sseEvent) {
	defer close(out)
	var ev sseEvent
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			out <- ev
			ev = sseEvent{}
		}
	}
}

func nextEvent(t *testing.T, events <-chan sseEvent) sseEvent {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "stream closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return sseEvent{}
	}
}

func TestWatchSuites(t *testing.T) {
	a := newTestAPI(t, time.Minute)
	srv := httptest.NewServer(a.handler)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/suites?watch=true", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	stream := make(chan sseEvent, 16)
	go readEvents(bufio.NewReader(resp.Body), stream)

	assert.Equal(t, "connected", nextEvent(t, stream).name)

	suite, err := a.service.StartSuite(ctx, ingest.StartSuiteRequest{})
	require.NoError(t, err)
	c, err := a.service.CreateCase(ctx, ingest.CreateCaseRequest{SuiteID: &suite.ID})
	require.NoError(t, err)
	require.NotEmpty(t, c.ID)
	_, err = a.store.SoftDeleteSuite(ctx, suite.ID, 0)
	require.NoError(t, err)

	ev := nextEvent(t, stream)
	assert.Equal(t, "suite_create", ev.name)
	var change store.Change
	require.NoError(t, json.Unmarshal([]byte(ev.data), &change))
	assert.Equal(t, suite.ID, change.ID)
	assert.Equal(t, int64(1), change.Version)

	// Case changes are filtered out of the suite stream.
	ev = nextEvent(t, stream)
	assert.Equal(t, "suite_delete", ev.name)

	cancel()
	assert.Eventually(t, func() bool { return a.broker.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWatchSuites_Heartbeat(t *testing.T) {
	a := newTestAPI(t, 20*time.Millisecond)
	srv := httptest.NewServer(a.handler)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/suites?watch=true", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	stream := make(chan sseEvent, 16)
	go readEvents(bufio.NewReader(resp.Body), stream)

	assert.Equal(t, "connected", nextEvent(t, stream).name)
	assert.Equal(t, "ping", nextEvent(t, stream).name)
}

func TestWatchSuites_SlowClientIsDropped(t *testing.T) {
	a := newTestAPI(t, time.Minute)
	srv := httptest.NewServer(a.handler)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/suites?watch=true", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	stream := make(chan sseEvent, 64)
	go readEvents(bufio.NewReader(resp.Body), stream)
	assert.Equal(t, "connected", nextEvent(t, stream).name)

	// Publishing straight to the broker outpaces the handler's queue.
	for i := range 100 {
		a.broker.Publish(store.Change{Seq: int64(i + 1), Kind: store.KindSuite, ID: "s", Version: 1, Mutation: store.MutationUpdate})
	}

	var last sseEvent
	for ev := range stream {
		last = ev
	}
	assert.Equal(t, "dropped", last.name)
}
