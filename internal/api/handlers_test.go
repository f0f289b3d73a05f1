package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/fluxaudio/corehost/internal/dispatch"
	"github.com/fluxaudio/corehost/internal/enginecore"
	"github.com/fluxaudio/corehost/internal/frontend"
	"github.com/fluxaudio/corehost/internal/rtqueue"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeEngineView struct {
	chains []enginecore.ChainSnapshot
	stats  enginecore.EngineStats
}

func (f fakeEngineView) Chains() []enginecore.ChainSnapshot { return f.chains }
func (f fakeEngineView) Stats() enginecore.EngineStats      { return f.stats }

func fakeProcessorFactory(kind string, id enginecore.ObjectID, name, label string) (enginecore.Processor, error) {
	p := &fakePassthrough{}
	p.BaseProcessor = enginecore.NewBaseProcessor(id, name, label, 1, 1, nil)
	return p, nil
}

type fakePassthrough struct {
	enginecore.BaseProcessor
}

func (p *fakePassthrough) Init(int) error                              { return nil }
func (p *fakePassthrough) ProcessAudio(in, out enginecore.SampleBuffer) {}

// newSyncFrontend builds a ControlFrontend whose post function executes the
// engine mutation synchronously against engine and immediately invokes the
// completion callback, standing in for the dispatcher's own tick.
func newSyncFrontend(engine *enginecore.Engine) *frontend.ControlFrontend {
	post := func(ev *dispatch.Event) bool {
		m, ok := ev.Payload.(dispatch.EngineMutation)
		if !ok {
			return false
		}
		status := dispatch.CompletionOK
		if err := m.Execute(engine); err != nil {
			status = dispatch.CompletionError
		}
		if ev.Completion != nil {
			ev.Completion(ev.CompletionArg, ev, status)
		}
		return true
	}
	return frontend.New(testLogger(), engine, engine.In, post, enginecore.NewIDGenerator(), fakeProcessorFactory, frontend.DefaultLimiterConfig(), func() enginecore.Time { return 0 })
}

func newBareEngine() *enginecore.Engine {
	e := enginecore.NewEngine(rtqueue.New(16), rtqueue.New(16), enginecore.NewIDGenerator())
	e.SetSampleRate(48000)
	e.SetBlockSize(64)
	return e
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func decodeEnvelope(t *testing.T, body *bytes.Buffer) envelope {
	t.Helper()
	var env envelope
	if err := json.NewDecoder(body).Decode(&env); err != nil {
		t.Fatalf("decoding response envelope: %v", err)
	}
	return env
}

func TestHealthzReportsEngineStats(t *testing.T) {
	h := &handlers{engine: fakeEngineView{stats: enginecore.EngineStats{BlocksProcessed: 42}}, logger: testLogger()}

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	h.healthz(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	env := decodeEnvelope(t, w.Body)
	data, ok := env.Data.(map[string]any)
	if !ok || data["blocks_processed"] != float64(42) {
		t.Errorf("data = %v, want blocks_processed 42", env.Data)
	}
}

func TestListChainsReturnsEngineSnapshot(t *testing.T) {
	h := &handlers{engine: fakeEngineView{chains: []enginecore.ChainSnapshot{{ID: 1, Name: "main"}}}, logger: testLogger()}

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/chains", nil)
	h.listChains(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	env := decodeEnvelope(t, w.Body)
	if env.Data == nil {
		t.Fatal("expected non-nil data")
	}
}

func TestListChainsAppliesPaginationLimitAndOffset(t *testing.T) {
	chains := []enginecore.ChainSnapshot{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}, {ID: 3, Name: "c"}}
	h := &handlers{engine: fakeEngineView{chains: chains}, logger: testLogger()}

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/chains?limit=1&offset=1", nil)
	h.listChains(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var env struct {
		Data struct {
			Items  []enginecore.ChainSnapshot `json:"items"`
			Total  int                        `json:"total"`
			Limit  int                        `json:"limit"`
			Offset int                        `json:"offset"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if env.Data.Total != 3 || env.Data.Limit != 1 || env.Data.Offset != 1 {
		t.Fatalf("pagination metadata = %+v, want total=3 limit=1 offset=1", env.Data)
	}
	if len(env.Data.Items) != 1 || env.Data.Items[0].Name != "b" {
		t.Fatalf("items = %+v, want [{Name: b}]", env.Data.Items)
	}
}

func TestListChainsRejectsInvalidLimit(t *testing.T) {
	h := &handlers{engine: fakeEngineView{}, logger: testLogger()}

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/chains?limit=0", nil)
	h.listChains(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestListProcessorsNotFound(t *testing.T) {
	h := &handlers{engine: fakeEngineView{}, logger: testLogger()}

	r := httptest.NewRequest(http.MethodGet, "/chains/ghost/processors", nil)
	r = withURLParam(r, "name", "ghost")
	w := httptest.NewRecorder()
	h.listProcessors(w, r)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestCreateChainEndToEnd(t *testing.T) {
	engine := newBareEngine()
	h := &handlers{engine: engine, frontend: newSyncFrontend(engine), logger: testLogger()}

	body := bytes.NewBufferString(`{"name":"main","input_channels":2,"output_channels":2}`)
	r := httptest.NewRequest(http.MethodPost, "/chains", body)
	w := httptest.NewRecorder()
	h.createChain(w, r)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body = %s", w.Code, w.Body.String())
	}
	if _, ok := engine.ChainIDByName("main"); !ok {
		t.Error("chain \"main\" was not actually registered")
	}
}

func TestCreateChainRejectsMissingFields(t *testing.T) {
	engine := newBareEngine()
	h := &handlers{engine: engine, frontend: newSyncFrontend(engine), logger: testLogger()}

	body := bytes.NewBufferString(`{"name":""}`)
	r := httptest.NewRequest(http.MethodPost, "/chains", body)
	w := httptest.NewRecorder()
	h.createChain(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestDeleteChainNotFoundReturns404(t *testing.T) {
	engine := newBareEngine()
	h := &handlers{engine: engine, frontend: newSyncFrontend(engine), logger: testLogger()}

	r := httptest.NewRequest(http.MethodDelete, "/chains/ghost", nil)
	r = withURLParam(r, "name", "ghost")
	w := httptest.NewRecorder()
	h.deleteChain(w, r)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, body = %s", w.Code, w.Body.String())
	}
}

func TestCreateProcessorEndToEnd(t *testing.T) {
	engine := newBareEngine()
	engine.RegisterChain("main", 1, 1)
	h := &handlers{engine: engine, frontend: newSyncFrontend(engine), logger: testLogger()}

	body := bytes.NewBufferString(`{"kind":"gain","name":"g1","label":"Gain","slot":0}`)
	r := httptest.NewRequest(http.MethodPost, "/chains/main/processors", body)
	r = withURLParam(r, "name", "main")
	w := httptest.NewRecorder()
	h.createProcessor(w, r)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body = %s", w.Code, w.Body.String())
	}
	if _, ok := engine.ProcessorIDByName("g1"); !ok {
		t.Error("processor \"g1\" was not actually registered")
	}
}

func TestDeleteProcessorNotFoundReturns404(t *testing.T) {
	engine := newBareEngine()
	engine.RegisterChain("main", 1, 1)
	h := &handlers{engine: engine, frontend: newSyncFrontend(engine), logger: testLogger()}

	r := httptest.NewRequest(http.MethodDelete, "/chains/main/processors/ghost", nil)
	r = withURLParam(r, "name", "main")
	r = withURLParam(r, "processor", "ghost")
	w := httptest.NewRecorder()
	h.deleteProcessor(w, r)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, body = %s", w.Code, w.Body.String())
	}
}

func TestErrStatusMapsCompletionStatuses(t *testing.T) {
	cases := []struct {
		status dispatch.CompletionStatus
		want   error
	}{
		{dispatch.CompletionTimedOut, errTimedOut},
		{dispatch.CompletionCancelled, errCancelled},
		{dispatch.CompletionError, errMutationFailed},
	}
	for _, c := range cases {
		if got := errStatus(c.status); got != c.want {
			t.Errorf("errStatus(%v) = %v, want %v", c.status, got, c.want)
		}
	}
}
