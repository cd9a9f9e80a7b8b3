package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/cbegin/chordplay-go/internal/score"
	"github.com/cbegin/chordplay-go/internal/timeline"
)

type fakeController struct {
	mu       sync.Mutex
	store    *Store
	playing  bool
	tempo    float64
	changes  int
	tempos   []float64
	compiled *timeline.Timeline
}

func (c *fakeController) Play() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playing = true
	c.tempo = c.store.Get().BPM
}

func (c *fakeController) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playing = false
}

func (c *fakeController) ScoreChanged() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes++
	c.compiled = nil
}

func (c *fakeController) SetTempo(bpm float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tempos = append(c.tempos, bpm)
}

func (c *fakeController) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

func (c *fakeController) Tempo() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tempo
}

func (c *fakeController) Position() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return 1.5, c.playing
}

func (c *fakeController) Timeline() *timeline.Timeline {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.compiled == nil {
		c.compiled = timeline.Compile(c.store.Get(), timeline.DefaultConfig())
	}
	return c.compiled
}

const scoreJSON = `{
  "title": "Demo",
  "key": "G",
  "bpm": 96,
  "sections": [{"id": "v", "name": "Verse", "bars": [
    {"id": "b1", "slots": [{"root": "I"}, null, {"root": "IV"}, {"root": "V", "bass": "vii"}]},
    {"id": "b2", "slots": [null, null, null, null], "repeatEnd": true}
  ]}]
}`

func newTestServer(t *testing.T) (*httptest.Server, *fakeController) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	store := NewStore(nil)
	ctl := &fakeController{store: store}
	srv := New(store, ctl, Options{Logger: log})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, ctl
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestPutScoreNotifiesController(t *testing.T) {
	ts, ctl := newTestServer(t)
	resp := do(t, http.MethodPut, ts.URL+"/score", scoreJSON)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ctl.changes != 1 {
		t.Fatalf("expected ScoreChanged once, got %d", ctl.changes)
	}

	resp = do(t, http.MethodGet, ts.URL+"/timeline", "")
	var tl timelineResponse
	if err := json.NewDecoder(resp.Body).Decode(&tl); err != nil {
		t.Fatalf("decode timeline: %v", err)
	}
	// the unmatched repeat end replays both bars
	if tl.Bars != 4 || len(tl.Events) != 16 || tl.TotalBeats != 16 {
		t.Fatalf("unexpected timeline: bars=%d events=%d beats=%v", tl.Bars, len(tl.Events), tl.TotalBeats)
	}
	if tl.Events[3].Label != "V/vii" || tl.Events[1].Label != "" {
		t.Fatalf("unexpected labels: %q %q", tl.Events[3].Label, tl.Events[1].Label)
	}
	if len(tl.Issues) != 1 || tl.Issues[0].Kind != timeline.IssueUnmatchedEnd.String() {
		t.Fatalf("expected an unmatched repeat end issue, got %+v", tl.Issues)
	}
}

func TestPutScoreRejectsBadJSON(t *testing.T) {
	ts, ctl := newTestServer(t)
	resp := do(t, http.MethodPut, ts.URL+"/score", "{not json")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if ctl.changes != 0 {
		t.Fatalf("bad score must not notify the controller")
	}
}

func TestTransportRoutes(t *testing.T) {
	ts, ctl := newTestServer(t)
	do(t, http.MethodPut, ts.URL+"/score", scoreJSON)

	if resp := do(t, http.MethodPost, ts.URL+"/play", ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("play status = %d", resp.StatusCode)
	}
	resp := do(t, http.MethodGet, ts.URL+"/status", "")
	var st statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !st.Playing || st.BPM != 96 || st.Beat != 1.5 || st.Title != "Demo" {
		t.Fatalf("unexpected status: %+v", st)
	}

	if resp := do(t, http.MethodPut, ts.URL+"/tempo", `{"bpm": 140}`); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("tempo status = %d", resp.StatusCode)
	}
	if resp := do(t, http.MethodPut, ts.URL+"/tempo", `{"bpm": -1}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("negative tempo status = %d", resp.StatusCode)
	}
	if len(ctl.tempos) != 1 || ctl.tempos[0] != 140 {
		t.Fatalf("unexpected tempo calls %v", ctl.tempos)
	}

	if resp := do(t, http.MethodPost, ts.URL+"/stop", ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("stop status = %d", resp.StatusCode)
	}
	if ctl.Playing() {
		t.Fatalf("expected stopped")
	}
	if resp := do(t, http.MethodGet, ts.URL+"/play", ""); resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET /play status = %d, want 405", resp.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	ts, _ := newTestServer(t)
	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/score", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got == "" {
		t.Fatalf("expected CORS allow origin header")
	}
}

func TestStoreDefaults(t *testing.T) {
	st := NewStore(nil)
	if s := st.Get(); s.Key != score.DefaultKey || s.BPM != score.DefaultBPM {
		t.Fatalf("unexpected default score %+v", s)
	}
}
