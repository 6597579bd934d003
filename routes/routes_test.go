package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"callme-notifier/middleware"
	"callme-notifier/services"
	"callme-notifier/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubProfiles struct {
	got []types.ProfileChangeEvent
	res services.Outcome
}

func (s *stubProfiles) Handle(_ context.Context, ev types.ProfileChangeEvent) services.Outcome {
	s.got = append(s.got, ev)
	return s.res
}

type stubFriendships struct {
	got []types.FriendshipChangeEvent
}

func (s *stubFriendships) Handle(_ context.Context, ev types.FriendshipChangeEvent) services.Outcome {
	s.got = append(s.got, ev)
	if !ev.IsNewPendingRequest() {
		return services.Outcome{Status: services.StatusIgnored}
	}
	return services.Outcome{Status: services.StatusSent}
}

type stubJob struct {
	name string
	res  interface{}
	err  error
	runs int
}

func (j *stubJob) Name() string { return j.name }

func (j *stubJob) RunOnce(context.Context, time.Time) (interface{}, error) {
	j.runs++
	return j.res, j.err
}

type fixture struct {
	router      *gin.Engine
	profiles    *stubProfiles
	friendships *stubFriendships
	sweep       *stubJob
	scan        *stubJob
}

func newFixture(t *testing.T, secretHash string, limiter ...*middleware.RateLimiter) *fixture {
	t.Helper()
	f := &fixture{
		profiles:    &stubProfiles{res: services.Outcome{Status: services.StatusSent}},
		friendships: &stubFriendships{},
		sweep:       &stubJob{name: "expire-availability", res: map[string]int{"expired": 2}},
		scan:        &stubJob{name: "notify-schedule-matches", res: services.ScanReport{Claimed: 1}},
	}
	deps := Dependencies{
		Log:               zap.NewNop(),
		Profiles:          f.profiles,
		Friendships:       f.friendships,
		Sweep:             f.sweep,
		Scan:              f.scan,
		Gatherer:          prometheus.NewRegistry(),
		WebhookSecretHash: secretHash,
	}
	if len(limiter) > 0 {
		deps.RateLimiter = limiter[0]
	}
	f.router = NewRouter(deps)
	return f
}

func (f *fixture) post(path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("body %q: %v", w.Body.String(), err)
	}
	return m
}

func TestProfileUpdated(t *testing.T) {
	f := newFixture(t, "")
	w := f.post("/webhooks/profile-updated",
		`{"type":"UPDATE","table":"profiles","record":{"id":"a","display_name":"Ana","is_available":true},"old_record":{"id":"a","is_available":false}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if got := decode(t, w)["status"]; got != "sent" {
		t.Fatalf("status field %v", got)
	}
	if len(f.profiles.got) != 1 {
		t.Fatalf("handler calls %d", len(f.profiles.got))
	}
	ev := f.profiles.got[0]
	if !ev.AvailabilityRisingEdge() || ev.New.DisplayName != "Ana" || ev.Old == nil {
		t.Fatalf("event %+v", ev)
	}
}

func TestProfileUpdated_InvalidPayloadStill200(t *testing.T) {
	f := newFixture(t, "")
	for _, body := range []string{`not json`, `{"record":null}`, `{"record":{"display_name":"no id"}}`} {
		w := f.post("/webhooks/profile-updated", body)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status %d", body, w.Code)
		}
		if got := decode(t, w)["status"]; got != "invalid_payload" {
			t.Fatalf("%s: status field %v", body, got)
		}
	}
	if len(f.profiles.got) != 0 {
		t.Fatalf("invalid payload reached the notifier")
	}
}

func TestProfileUpdated_HandlerErrorStill200(t *testing.T) {
	f := newFixture(t, "")
	f.profiles.res = services.Outcome{Status: services.StatusError, Err: errors.New("db down")}
	w := f.post("/webhooks/profile-updated", `{"type":"UPDATE","record":{"id":"a","is_available":true}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "db down") {
		t.Fatalf("internal error leaked: %s", w.Body.String())
	}
}

func TestFriendshipInserted(t *testing.T) {
	f := newFixture(t, "")
	w := f.post("/webhooks/friendship-inserted",
		`{"type":"INSERT","table":"friendships","record":{"id":5,"user_id":"s","friend_id":"r","status":"pending"},"old_record":null}`)
	if w.Code != http.StatusOK || decode(t, w)["status"] != "sent" {
		t.Fatalf("%d %s", w.Code, w.Body.String())
	}
	if len(f.friendships.got) != 1 || f.friendships.got[0].New.ID != 5 {
		t.Fatalf("events %+v", f.friendships.got)
	}
}

func TestWebhooksRequireSecret(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hook-secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, string(hash))
	body := `{"type":"INSERT","record":{"id":5,"user_id":"s","friend_id":"r","status":"pending"}}`

	if w := f.post("/webhooks/friendship-inserted", body); w.Code != http.StatusUnauthorized {
		t.Fatalf("no secret: %d", w.Code)
	}
	if w := f.post("/jobs/expire-availability", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("job without secret: %d", w.Code)
	}
	if w := f.post("/webhooks/friendship-inserted", body, "Authorization", "Bearer hook-secret"); w.Code != http.StatusOK {
		t.Fatalf("with secret: %d", w.Code)
	}
	if len(f.friendships.got) != 1 {
		t.Fatalf("handler calls %d", len(f.friendships.got))
	}
}

func TestJobEndpoints(t *testing.T) {
	f := newFixture(t, "")
	w := f.post("/jobs/expire-availability", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	m := decode(t, w)
	if m["status"] != "ok" || m["job"] != "expire-availability" {
		t.Fatalf("body %v", m)
	}
	if res, _ := m["result"].(map[string]interface{}); res["expired"] != float64(2) {
		t.Fatalf("result %v", m["result"])
	}

	f.scan.err = errors.New("boom")
	w = f.post("/jobs/notify-schedule-matches", "")
	if w.Code != http.StatusOK || decode(t, w)["status"] != "error" {
		t.Fatalf("%d %s", w.Code, w.Body.String())
	}
	if f.sweep.runs != 1 || f.scan.runs != 1 {
		t.Fatalf("runs sweep=%d scan=%d", f.sweep.runs, f.scan.runs)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, "")
	for _, path := range []string{"/health", "/metrics"} {
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("%s: %d", path, w.Code)
		}
	}
}

func TestProfileUpdated_OnlyUpdatesReachNotifier(t *testing.T) {
	f := newFixture(t, "")
	for _, typ := range []string{"INSERT", "DELETE"} {
		w := f.post("/webhooks/profile-updated",
			`{"type":"`+typ+`","table":"profiles","record":{"id":"a","is_available":true},"old_record":null}`)
		if w.Code != http.StatusOK || decode(t, w)["status"] != "ignored" {
			t.Fatalf("%s: %d %s", typ, w.Code, w.Body.String())
		}
	}
	if len(f.profiles.got) != 0 {
		t.Fatalf("non-update reached the notifier %d times", len(f.profiles.got))
	}

	w := f.post("/webhooks/profile-updated", `{"record":{"id":"a","is_available":true}}`)
	if w.Code != http.StatusOK || len(f.profiles.got) != 1 {
		t.Fatalf("untyped update: %d, calls %d", w.Code, len(f.profiles.got))
	}
}

func TestWebhooks_BurstIsNeverRejected(t *testing.T) {
	f := newFixture(t, "", middleware.NewRateLimiter(50, 100))
	body := `{"type":"UPDATE","table":"profiles","record":{"id":"a","is_available":true},"old_record":{"id":"a","is_available":false}}`

	codes := map[int]int{}
	for i := 0; i < 150; i++ {
		codes[f.post("/webhooks/profile-updated", body).Code]++
	}
	if codes[http.StatusOK] != 150 {
		t.Fatalf("codes %v", codes)
	}
	if len(f.profiles.got) != 150 {
		t.Fatalf("handled %d", len(f.profiles.got))
	}

	jobCodes := map[int]int{}
	for i := 0; i < 150; i++ {
		jobCodes[f.post("/jobs/expire-availability", "").Code]++
	}
	if jobCodes[http.StatusTooManyRequests] == 0 {
		t.Fatalf("job routes not limited: %v", jobCodes)
	}
}
