package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	fastws "github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"mailprobe/models"
	"mailprobe/verifier"
)

type stubVerifier struct {
	mu   sync.Mutex
	seen []string
}

func (s *stubVerifier) Verify(_ context.Context, email string) models.VerificationResult {
	s.mu.Lock()
	s.seen = append(s.seen, email)
	s.mu.Unlock()
	if strings.HasPrefix(email, "bad") {
		return models.NewResult(email, models.StatusInvalid)
	}
	return models.NewResult(email, models.StatusValid)
}

func (s *stubVerifier) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

func newTestApp(t *testing.T) (*fiber.App, *stubVerifier) {
	t.Helper()
	stub := &stubVerifier{}
	vc := NewVerificationController(verifier.NewService(stub, 3, 0), nil)

	app := fiber.New()
	app.Post("/verify", vc.VerifyEmail)
	app.Get("/verify/stream", websocket.New(vc.StreamVerification))
	return app, stub
}

func postVerify(t *testing.T, app *fiber.App, body string) (int, map[string]json.RawMessage) {
	t.Helper()
	req := httptest.NewRequest("POST", "/verify", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]json.RawMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("response is not a JSON object: %s", raw)
	}
	return resp.StatusCode, out
}

func TestVerifyEmail_Single(t *testing.T) {
	app, _ := newTestApp(t)

	status, body := postVerify(t, app, `{"email":"user@example.com"}`)
	if status != fiber.StatusOK {
		t.Fatalf("got status %d", status)
	}
	var r models.VerificationResult
	raw, _ := json.Marshal(body)
	json.Unmarshal(raw, &r)
	if r.Email != "user@example.com" || r.Status != models.StatusValid || r.QualityScore == nil || *r.QualityScore != 1 {
		t.Errorf("unexpected result %+v", r)
	}
}

func TestVerifyEmail_Batch(t *testing.T) {
	app, _ := newTestApp(t)

	status, body := postVerify(t, app, `{"emails":["a@example.com","bad@example.com"]}`)
	if status != fiber.StatusOK {
		t.Fatalf("got status %d", status)
	}
	var results []models.VerificationResult
	if err := json.Unmarshal(body["results"], &results); err != nil {
		t.Fatalf("bad results: %v", err)
	}
	if len(results) != 2 || results[0].Email != "a@example.com" || results[1].Status != models.StatusInvalid {
		t.Errorf("unexpected results %+v", results)
	}
	if string(body["results"]) == "null" {
		t.Error("results must be an array")
	}
}

func TestVerifyEmail_EmptyBatch(t *testing.T) {
	app, _ := newTestApp(t)

	status, body := postVerify(t, app, `{"emails":[]}`)
	if status != fiber.StatusOK {
		t.Fatalf("got status %d", status)
	}
	if string(body["results"]) != "[]" {
		t.Errorf("expected empty results array, got %s", body["results"])
	}
}

func TestVerifyEmail_BadRequests(t *testing.T) {
	long := strings.Repeat("a", 320) + "@example.com"

	tests := []struct {
		name string
		body string
	}{
		{"neither field", `{}`},
		{"empty email", `{"email":""}`},
		{"both fields", `{"email":"a@example.com","emails":["b@example.com"]}`},
		{"oversized batch", `{"emails":["a@x.com","b@x.com","c@x.com","d@x.com"]}`},
		{"not json", `email=a@example.com`},
		{"wrong type", `{"emails":"a@example.com"}`},
		{"address too long", `{"email":"` + long + `"}`},
		{"batch item too long", `{"emails":["` + long + `"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, stub := newTestApp(t)
			status, body := postVerify(t, app, tt.body)
			if status != fiber.StatusBadRequest {
				t.Errorf("got status %d, want 400", status)
			}
			if _, ok := body["error"]; !ok {
				t.Errorf("expected an error field, got %v", body)
			}
			if stub.calls() != 0 {
				t.Error("a rejected request must not verify anything")
			}
		})
	}
}

func TestVerifyEmail_DefaultBatchLimit(t *testing.T) {
	stub := &stubVerifier{}
	vc := NewVerificationController(verifier.NewService(stub, 0, 0), nil)
	app := fiber.New()
	app.Post("/verify", vc.VerifyEmail)

	batch := func(n int) string {
		emails := make([]string, n)
		for i := range emails {
			emails[i] = fmt.Sprintf("user%d@example.com", i)
		}
		raw, _ := json.Marshal(map[string][]string{"emails": emails})
		return string(raw)
	}

	status, body := postVerify(t, app, batch(51))
	if status != fiber.StatusBadRequest {
		t.Fatalf("got status %d, want 400", status)
	}
	var msg string
	json.Unmarshal(body["error"], &msg)
	if msg != "Maximum 50 emails per batch" {
		t.Errorf("unexpected error %q", msg)
	}
	if stub.calls() != 0 {
		t.Fatalf("an oversized batch must not verify anything, got %d calls", stub.calls())
	}

	status, body = postVerify(t, app, batch(50))
	if status != fiber.StatusOK {
		t.Fatalf("a batch at the limit: got status %d", status)
	}
	var results []models.VerificationResult
	if err := json.Unmarshal(body["results"], &results); err != nil || len(results) != 50 {
		t.Errorf("expected 50 results, got %d (%v)", len(results), err)
	}
	if stub.calls() != 50 {
		t.Errorf("expected 50 verifications, got %d", stub.calls())
	}
}

func TestStreamVerification(t *testing.T) {
	app, _ := newTestApp(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go app.Listener(ln)
	t.Cleanup(func() { app.Shutdown() })

	conn, _, err := fastws.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/verify/stream", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := conn.WriteJSON(map[string][]string{"emails": {"a@example.com", "bad@example.com"}}); err != nil {
		t.Fatalf("write: %v", err)
	}

	for i, want := range []models.Status{models.StatusValid, models.StatusInvalid} {
		var item struct {
			Index  int                       `json:"index"`
			Result models.VerificationResult `json:"result"`
		}
		if err := conn.ReadJSON(&item); err != nil {
			t.Fatalf("read item %d: %v", i, err)
		}
		if item.Index != i || item.Result.Status != want {
			t.Errorf("item %d: got %+v", i, item)
		}
	}

	var done struct {
		Done bool `json:"done"`
	}
	if err := conn.ReadJSON(&done); err != nil || !done.Done {
		t.Errorf("expected done message, got %+v %v", done, err)
	}
}

func TestStreamVerification_RejectsOversizedBatch(t *testing.T) {
	app, stub := newTestApp(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go app.Listener(ln)
	t.Cleanup(func() { app.Shutdown() })

	conn, _, err := fastws.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/verify/stream", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	conn.WriteJSON(map[string][]string{"emails": {"a@x.com", "b@x.com", "c@x.com", "d@x.com"}})
	var msg map[string]string
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg["error"] == "" {
		t.Errorf("expected an error message, got %v", msg)
	}
	if stub.calls() != 0 {
		t.Error("nothing should be verified")
	}
}
