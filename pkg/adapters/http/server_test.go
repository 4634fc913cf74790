package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/basthon"
	"github.com/aretw0/basthon/pkg/domain"
	"github.com/aretw0/basthon/pkg/packages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, opts ...basthon.Option) (*basthon.Kernel, *Server) {
	t.Helper()
	opts = append([]basthon.Option{basthon.WithRootDir(t.TempDir())}, opts...)
	k, err := basthon.New(context.Background(), opts...)
	require.NoError(t, err)
	s := NewHandler(k)
	t.Cleanup(func() {
		s.Close()
		_ = k.Close()
	})
	return k, s
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeEval(t *testing.T, w *httptest.ResponseRecorder) EvalResponse {
	t.Helper()
	var resp EvalResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func TestSpec_IsValid(t *testing.T) {
	doc, err := Spec()
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", doc.Info.Version)
	assert.NotNil(t, doc.Paths.Value("/eval"))
	assert.NotNil(t, doc.Paths.Value("/events"))
}

func TestEvaluate_Value(t *testing.T) {
	_, s := newServer(t)

	w := do(t, s, http.MethodPost, "/eval", `{"code":"console.log('hi'); 1+1","cell":"c1"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decodeEval(t, w)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, 1, resp.ExecutionCount)
	assert.Nil(t, resp.Error)
	require.Len(t, resp.Events, 2)

	assert.Equal(t, domain.EventEvalOutput, resp.Events[0].Event)
	assert.Equal(t, "stdout", resp.Events[0].Payload[domain.KeyStream])
	assert.Equal(t, "c1", resp.Events[0].Payload["cell"])

	finished := resp.Events[1]
	assert.Equal(t, domain.EventEvalFinished, finished.Event)
	assert.Equal(t, resp.RequestID, finished.Payload[KeyRequestID])
	assert.Equal(t, map[string]any{domain.MimeText: "2"}, finished.Payload[domain.KeyResult])
}

func TestEvaluate_KeepsRequestID(t *testing.T) {
	_, s := newServer(t)

	resp := decodeEval(t, do(t, s, http.MethodPost, "/eval", `{"code":"1","request_id":"abc"}`))
	assert.Equal(t, "abc", resp.RequestID)
	require.NotEmpty(t, resp.Events)
	assert.Equal(t, "abc", resp.Events[0].Payload[KeyRequestID])
}

func TestEvaluate_Fault(t *testing.T) {
	_, s := newServer(t)

	w := do(t, s, http.MethodPost, "/eval", `{"code":"undefinedName + 1"}`)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeEval(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "EvaluationFault", resp.Error["name"])
	require.Len(t, resp.Events, 2)
	assert.Equal(t, domain.EventEvalOutput, resp.Events[0].Event)
	assert.Equal(t, "stderr", resp.Events[0].Payload[domain.KeyStream])
	assert.Equal(t, domain.EventEvalError, resp.Events[1].Event)
}

func TestEvaluate_LoaderFailure(t *testing.T) {
	missing := httptest.NewServer(http.NotFoundHandler())
	defer missing.Close()
	k, s := newServer(t, basthon.WithCatalogue(packages.NewCatalogue(
		packages.Descriptor{Name: "left-pad", Locator: missing.URL + "/left-pad.js"},
	)))

	w := do(t, s, http.MethodPost, "/eval", `{"code":"require('left-pad')"}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	resp := decodeEval(t, w)
	assert.Equal(t, "LoaderError", resp.Error["name"])
	assert.Empty(t, resp.Events)
	assert.Equal(t, 0, k.ExecutionCount())
}

func TestEvaluate_InvalidBody(t *testing.T) {
	_, s := newServer(t)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/eval", `not json`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/eval", `{"cell":"c1"}`).Code)
}

func TestStatusHistoryRestart(t *testing.T) {
	_, s := newServer(t)

	do(t, s, http.MethodPost, "/eval", `{"code":"var x = 41"}`)
	do(t, s, http.MethodPost, "/eval", `{"code":"x + 1"}`)

	var status map[string]any
	require.NoError(t, json.Unmarshal(do(t, s, http.MethodGet, "/status", "").Body.Bytes(), &status))
	assert.EqualValues(t, 2, status["execution_count"])

	var history []basthon.HistoryEntry
	require.NoError(t, json.Unmarshal(do(t, s, http.MethodGet, "/history", "").Body.Bytes(), &history))
	require.Len(t, history, 2)
	assert.Equal(t, "x + 1", history[1].Input)
	assert.Equal(t, "42", history[1].Output)
	assert.False(t, history[0].HasOutput)

	assert.Equal(t, http.StatusNoContent, do(t, s, http.MethodPost, "/restart", "").Code)

	require.NoError(t, json.Unmarshal(do(t, s, http.MethodGet, "/history", "").Body.Bytes(), &history))
	assert.Empty(t, history)
}

func TestPackages(t *testing.T) {
	_, s := newServer(t)

	var listing map[string][]string
	w := do(t, s, http.MethodGet, "/packages", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	assert.Contains(t, listing["native"], "fs")
	assert.NotNil(t, listing["loaded"])
}

func TestFiles(t *testing.T) {
	_, s := newServer(t)

	assert.Equal(t, http.StatusNoContent, do(t, s, http.MethodPut, "/files/data/in.txt", "abc").Code)
	w := do(t, s, http.MethodGet, "/files/data/in.txt", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc", w.Body.String())

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/files/data/missing.txt", "").Code)

	require.Equal(t, http.StatusNoContent,
		do(t, s, http.MethodPut, "/files/lib/greet.js", `module.exports = function (n) { return "hi " + n }`).Code)
	resp := decodeEval(t, do(t, s, http.MethodPost, "/eval", `{"code":"require('greet')('bob')"}`))
	require.Nil(t, resp.Error)
	require.NotEmpty(t, resp.Events)
	last := resp.Events[len(resp.Events)-1]
	assert.Equal(t, map[string]any{domain.MimeText: "'hi bob'"}, last.Payload[domain.KeyResult])
}

func TestBackups(t *testing.T) {
	_, s := newServer(t)

	assert.Equal(t, http.StatusNoContent, do(t, s, http.MethodPut, "/backup/notebooks/a.js", "1+1").Code)

	w := do(t, s, http.MethodGet, "/backup/notebooks/a.js", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1+1", w.Body.String())

	var keys []string
	require.NoError(t, json.Unmarshal(do(t, s, http.MethodGet, "/backup", "").Body.Bytes(), &keys))
	assert.Equal(t, []string{"notebooks/a.js"}, keys)

	assert.Equal(t, http.StatusNoContent, do(t, s, http.MethodDelete, "/backup/notebooks/a.js", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/backup/notebooks/a.js", "").Code)
}

func TestHealthAndInfo(t *testing.T) {
	_, s := newServer(t)

	assert.JSONEq(t, `{"status":"ok"}`, do(t, s, http.MethodGet, "/health", "").Body.String())

	var info map[string]string
	require.NoError(t, json.Unmarshal(do(t, s, http.MethodGet, "/info", "").Body.Bytes(), &info))
	assert.Equal(t, "basthon-http", info["app"])
	assert.Equal(t, "1.0.0", info["api_version"])
	assert.Equal(t, strings.TrimSpace(basthon.Version), info["version"])

	w := do(t, s, http.MethodGet, "/openapi.yaml", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("openapi:")))
}

func TestMetricsRoute(t *testing.T) {
	k, err := basthon.New(context.Background(), basthon.WithRootDir(t.TempDir()))
	require.NoError(t, err)
	defer k.Close()

	s := NewHandler(k, WithMetrics(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "basthon_evaluations_total 0\n")
	})))
	defer s.Close()

	w := do(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "basthon_evaluations_total")
}

func TestCORS_Preflight(t *testing.T) {
	_, s := newServer(t)

	w := do(t, s, http.MethodOptions, "/eval", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

// readEvents returns the names and data of the next n non-ping events.
func readEvents(t *testing.T, sc *bufio.Scanner, n int) (names []string, data []string) {
	t.Helper()
	var name string
	for len(names) < n && sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			if name != "ping" {
				names = append(names, name)
				data = append(data, strings.TrimPrefix(line, "data: "))
			}
		}
	}
	require.Len(t, names, n, "stream ended early")
	return names, data
}

func openStream(t *testing.T, srv *httptest.Server, query string) *bufio.Scanner {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events"+query, nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	// Wait for the ping so the subscription is registered.
	for sc.Scan() {
		if sc.Text() == "data: connected" {
			break
		}
	}
	return sc
}

func TestSubscribeEvents_Async(t *testing.T) {
	k, s := newServer(t)
	stop := k.Listen(context.Background())
	defer stop()

	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)

	sc := openStream(t, srv, "")

	resp, err := srv.Client().Post(srv.URL+"/eval/async", "application/json",
		strings.NewReader(`{"code":"console.log('x'); 7"}`))
	require.NoError(t, err)
	var accepted map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NotEmpty(t, accepted[KeyRequestID])

	names, data := readEvents(t, sc, 2)
	assert.Equal(t, []string{domain.EventEvalOutput, domain.EventEvalFinished}, names)

	var finished map[string]any
	require.NoError(t, json.Unmarshal([]byte(data[1]), &finished))
	assert.Equal(t, accepted[KeyRequestID], finished[KeyRequestID])
	assert.EqualValues(t, 1, finished[domain.KeyExecutionCount])
}

func TestSubscribeEvents_Filter(t *testing.T) {
	_, s := newServer(t)
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)

	sc := openStream(t, srv, "?events=eval.finished,eval.error")

	done := make(chan struct{})
	go func() {
		defer close(done)
		resp, err := srv.Client().Post(srv.URL+"/eval", "application/json",
			strings.NewReader(`{"code":"console.log('noise'); 3"}`))
		if err == nil {
			resp.Body.Close()
		}
	}()

	names, _ := readEvents(t, sc, 1)
	assert.Equal(t, []string{domain.EventEvalFinished}, names)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("eval request did not complete")
	}
}

func TestStreamManager_DropsForSlowClients(t *testing.T) {
	sm := NewStreamManager()
	ch, cancel := sm.Subscribe()
	defer cancel()

	for i := 0; i < 100; i++ {
		sm.Broadcast(Event{Event: domain.EventEvalOutput, Payload: domain.Payload{"i": i}})
	}
	assert.Len(t, ch, cap(ch))

	sm.Close()
	_, ok := <-ch
	assert.True(t, ok, "buffered messages survive close")
}
