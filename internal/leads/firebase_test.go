package leads

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	logx "dispatchbot/pkg/logx"
)

const fbBase = "https://db.example.test"

func newFirebase(t *testing.T) (*firebaseStore, *httpmock.MockTransport) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	s, err := openFirebase(Config{URL: fbBase + "/"}, logx.Nop(), &http.Client{Transport: mt})
	if err != nil {
		t.Fatal(err)
	}
	return s.(*firebaseStore), mt
}

func TestFirebaseNextCandidateOrder(t *testing.T) {
	t.Parallel()
	s, mt := newFirebase(t)
	mt.RegisterResponder(http.MethodGet, fbBase+"/leads.json", httpmock.NewStringResponder(200, `{
		"c": {"email": "c@example.com"},
		"b": {"email": "b@example.com", "status": "sent"},
		"a": {"email": "a@example.com", "status": "claimed", "claimed_by": "w9"},
		"bb": {"email": "bb@example.com", "app_name": "Rafiq", "status": "unclaimed"}
	}`))

	it, ok, err := s.NextCandidate(context.Background(), nil)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if it.ID != "bb" || it.DisplayName != "Rafiq" {
		t.Fatalf("candidate = %+v, want bb/Rafiq", it)
	}
	it, ok, err = s.NextCandidate(context.Background(), func(id string) bool { return id == "bb" })
	if err != nil || !ok || it.ID != "c" {
		t.Fatalf("with bb skipped: %+v ok=%v err=%v, want c", it, ok, err)
	}

	c, err := s.Counts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if c != (Counts{Total: 4, Unclaimed: 2, Claimed: 1, Sent: 1}) {
		t.Fatalf("counts = %+v", c)
	}
}

func TestFirebaseClaimUsesETag(t *testing.T) {
	t.Parallel()
	s, mt := newFirebase(t)
	mt.RegisterResponder(http.MethodGet, fbBase+"/leads/l1.json", func(r *http.Request) (*http.Response, error) {
		if r.Header.Get("X-Firebase-ETag") != "true" {
			t.Errorf("missing X-Firebase-ETag request header")
		}
		resp := httpmock.NewStringResponse(200, `{"email":"a@example.com"}`)
		resp.Header.Set("ETag", "tag-1")
		return resp, nil
	})
	var put fbItem
	mt.RegisterResponder(http.MethodPut, fbBase+"/leads/l1.json", func(r *http.Request) (*http.Response, error) {
		if got := r.Header.Get("if-match"); got != "tag-1" {
			t.Errorf("if-match = %q", got)
		}
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &put)
		return httpmock.NewStringResponse(200, string(b)), nil
	})

	if err := s.Claim(context.Background(), "l1", "w1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if put.Status != "claimed" || put.ClaimedBy == nil || *put.ClaimedBy != "w1" || put.ClaimedAt == nil {
		t.Fatalf("put body = %+v", put)
	}
}

func TestFirebaseClaimKeepsForeignFields(t *testing.T) {
	t.Parallel()
	s, mt := newFirebase(t)
	mt.RegisterResponder(http.MethodGet, fbBase+"/leads/l1.json", func(r *http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(200, `{"email":"a@example.com","app_name":"Acme","source":"play","scraped_at":"2026-01-02","rating":4.5}`)
		resp.Header.Set("ETag", "tag-1")
		return resp, nil
	})
	var put map[string]any
	mt.RegisterResponder(http.MethodPut, fbBase+"/leads/l1.json", func(r *http.Request) (*http.Response, error) {
		_ = json.NewDecoder(r.Body).Decode(&put)
		return httpmock.NewStringResponse(200, `{}`), nil
	})

	if err := s.Claim(context.Background(), "l1", "w1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if put["source"] != "play" || put["scraped_at"] != "2026-01-02" || put["rating"] != 4.5 || put["app_name"] != "Acme" {
		t.Fatalf("unmodelled fields lost: %v", put)
	}
	if put["status"] != "claimed" || put["claimed_by"] != "w1" {
		t.Fatalf("claim fields = %v", put)
	}
}

func TestFirebaseClaimLost(t *testing.T) {
	t.Parallel()
	s, mt := newFirebase(t)
	mt.RegisterResponder(http.MethodGet, fbBase+"/leads/l1.json", func(r *http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(200, `{"email":"a@example.com","status":"unclaimed"}`)
		resp.Header.Set("ETag", "tag-1")
		return resp, nil
	})
	mt.RegisterResponder(http.MethodPut, fbBase+"/leads/l1.json", httpmock.NewStringResponder(412, `{"error":"etag mismatch"}`))
	mt.RegisterResponder(http.MethodGet, fbBase+"/leads/l2.json", httpmock.NewStringResponder(200, `{"email":"b@example.com","status":"claimed"}`))
	mt.RegisterResponder(http.MethodGet, fbBase+"/leads/l3.json", httpmock.NewStringResponder(200, `null`))

	ctx := context.Background()
	if err := s.Claim(ctx, "l1", "w1"); !errors.Is(err, ErrClaimLost) {
		t.Fatalf("precondition failure err = %v", err)
	}
	if err := s.Claim(ctx, "l2", "w1"); !errors.Is(err, ErrClaimLost) {
		t.Fatalf("already claimed err = %v", err)
	}
	if err := s.Claim(ctx, "l3", "w1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing err = %v", err)
	}
	if n := mt.GetCallCountInfo()["PUT "+fbBase+"/leads/l1.json"]; n != 1 {
		t.Fatalf("PUT calls = %d", n)
	}
}

func TestFirebaseReleaseClearsClaim(t *testing.T) {
	t.Parallel()
	s, mt := newFirebase(t)
	var patch map[string]any
	mt.RegisterResponder(http.MethodPatch, fbBase+"/leads/l1.json", func(r *http.Request) (*http.Response, error) {
		_ = json.NewDecoder(r.Body).Decode(&patch)
		return httpmock.NewStringResponse(200, `{}`), nil
	})
	if err := s.Release(context.Background(), "l1"); err != nil {
		t.Fatal(err)
	}
	if patch["status"] != "unclaimed" {
		t.Fatalf("patch = %v", patch)
	}
	for _, k := range []string{"claimed_by", "claimed_at"} {
		v, ok := patch[k]
		if !ok || v != nil {
			t.Fatalf("%s should be sent as null, patch = %v", k, patch)
		}
	}
}

func TestFirebaseReclaimStale(t *testing.T) {
	t.Parallel()
	s, mt := newFirebase(t)
	old := time.Now().Add(-2 * time.Hour).UTC().Format(time.RFC3339Nano)
	fresh := time.Now().UTC().Format(time.RFC3339Nano)
	mt.RegisterResponder(http.MethodGet, fbBase+"/leads.json", httpmock.NewStringResponder(200, `{
		"a": {"email": "a@example.com", "status": "claimed", "claimed_at": "`+old+`"},
		"b": {"email": "b@example.com", "status": "claimed", "claimed_at": "`+fresh+`"}
	}`))
	var patch map[string]any
	mt.RegisterResponder(http.MethodPatch, fbBase+"/leads.json", func(r *http.Request) (*http.Response, error) {
		_ = json.NewDecoder(r.Body).Decode(&patch)
		return httpmock.NewStringResponse(200, `{}`), nil
	})

	n, err := s.ReclaimStale(context.Background(), time.Now().Add(-time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("ReclaimStale = %d, %v", n, err)
	}
	if patch["a/status"] != "unclaimed" {
		t.Fatalf("patch = %v", patch)
	}
	if _, ok := patch["b/status"]; ok {
		t.Fatalf("fresh claim should be untouched: %v", patch)
	}
}

func TestFirebaseTemplate(t *testing.T) {
	t.Parallel()
	s, mt := newFirebase(t)
	mt.RegisterResponder(http.MethodGet, fbBase+"/email_config.json",
		httpmock.NewStringResponder(200, `{"subject":"Hello {name}","body":"<p>Hi</p>"}`))
	mt.RegisterResponder(http.MethodGet, fbBase+"/missing.json", httpmock.NewStringResponder(200, `null`))

	tpl, ok, err := s.Template(context.Background())
	if err != nil || !ok || tpl.Subject != "Hello {name}" || tpl.BodyHTML != "<p>Hi</p>" {
		t.Fatalf("template = %+v ok=%v err=%v", tpl, ok, err)
	}

	s.tplPath = "missing"
	if _, ok, err := s.Template(context.Background()); ok || err != nil {
		t.Fatalf("missing template ok=%v err=%v", ok, err)
	}
}

func TestFirebaseHTTPError(t *testing.T) {
	t.Parallel()
	s, mt := newFirebase(t)
	mt.RegisterResponder(http.MethodGet, fbBase+"/leads.json", httpmock.NewStringResponder(401, `{"error":"Permission denied"}`))
	_, _, err := s.NextCandidate(context.Background(), nil)
	var se *statusError
	if !errors.As(err, &se) || se.code != 401 {
		t.Fatalf("err = %v", err)
	}
}
