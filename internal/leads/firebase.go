package leads

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	logx "dispatchbot/pkg/logx"
)

// firebaseStore talks to a Realtime Database over its REST API.
//
// Layout:
//
//	/<collection>/<id>    {email, app_name, status, claimed_by, claimed_at, sent_at, sent_by}
//	/<template_path>      {subject, body, updated_at}
//
// Claim reads the item with X-Firebase-ETag and writes it back with if-match,
// so a concurrent writer turns into a 412 and ErrClaimLost.
type firebaseStore struct {
	base       string
	auth       string
	collection string
	tplPath    string
	http       *http.Client
	log        logx.Logger
}

var _ Store = (*firebaseStore)(nil)

type fbItem struct {
	Email     string  `json:"email"`
	AppName   string  `json:"app_name,omitempty"`
	Name      string  `json:"name,omitempty"`
	Status    string  `json:"status,omitempty"`
	ClaimedBy *string `json:"claimed_by,omitempty"`
	ClaimedAt *string `json:"claimed_at,omitempty"`
	SentAt    string  `json:"sent_at,omitempty"`
	SentBy    string  `json:"sent_by,omitempty"`
}

type fbTemplate struct {
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

func openFirebase(cfg Config, log logx.Logger, client *http.Client) (Store, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil, errors.New("store.url is required for firebase driver")
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	coll := strings.Trim(strings.TrimSpace(cfg.Collection), "/")
	if coll == "" {
		coll = "leads"
	}
	tpl := strings.Trim(strings.TrimSpace(cfg.TemplatePath), "/")
	if tpl == "" {
		tpl = "email_config"
	}
	return &firebaseStore{base: base, auth: cfg.AuthToken, collection: coll, tplPath: tpl, http: client, log: log}, nil
}

func (f *firebaseStore) Close() error { return nil }

func (f *firebaseStore) NextCandidate(ctx context.Context, skip func(id string) bool) (Item, bool, error) {
	all, err := f.readAll(ctx)
	if err != nil {
		return Item{}, false, err
	}
	for _, it := range all {
		if it.Status == StatusUnclaimed && !skipped(skip, it.ID) {
			return it, true, nil
		}
	}
	return Item{}, false, nil
}

func (f *firebaseStore) Claim(ctx context.Context, id, worker string) error {
	path := f.itemPath(id)
	// The node is written back whole under the ETag, so it is kept as raw
	// JSON: fields owned by other writers survive the claim.
	var node map[string]json.RawMessage
	etag, err := f.do(ctx, http.MethodGet, path, nil, map[string]string{"X-Firebase-ETag": "true"}, &node)
	if err != nil {
		return err
	}
	if node == nil {
		return ErrNotFound
	}
	var status string
	if rs, ok := node["status"]; ok {
		_ = json.Unmarshal(rs, &status)
	}
	if normalizeStatus(status) != StatusUnclaimed {
		return ErrClaimLost
	}
	for k, v := range map[string]string{
		"status":     string(StatusClaimed),
		"claimed_by": worker,
		"claimed_at": time.Now().UTC().Format(time.RFC3339Nano),
	} {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		node[k] = b
	}

	_, err = f.do(ctx, http.MethodPut, path, node, map[string]string{"if-match": etag}, nil)
	var se *statusError
	if errors.As(err, &se) && se.code == http.StatusPreconditionFailed {
		return ErrClaimLost
	}
	return err
}

func (f *firebaseStore) MarkSent(ctx context.Context, id, worker string, at time.Time) error {
	patch := map[string]any{
		"status":     string(StatusSent),
		"sent_at":    at.UTC().Format(time.RFC3339Nano),
		"sent_by":    worker,
		"claimed_by": nil,
		"claimed_at": nil,
	}
	_, err := f.do(ctx, http.MethodPatch, f.itemPath(id), patch, nil, nil)
	return err
}

func (f *firebaseStore) Release(ctx context.Context, id string) error {
	patch := map[string]any{
		"status":     string(StatusUnclaimed),
		"claimed_by": nil,
		"claimed_at": nil,
	}
	_, err := f.do(ctx, http.MethodPatch, f.itemPath(id), patch, nil, nil)
	return err
}

func (f *firebaseStore) Template(ctx context.Context) (Template, bool, error) {
	var raw *fbTemplate
	if _, err := f.do(ctx, http.MethodGet, "/"+f.tplPath, nil, nil, &raw); err != nil {
		return Template{}, false, err
	}
	if raw == nil {
		return Template{}, false, nil
	}
	tpl := Template{Subject: raw.Subject, BodyHTML: raw.Body}
	if t, err := time.Parse(time.RFC3339Nano, raw.UpdatedAt); err == nil {
		tpl.UpdatedAt = t
	}
	return tpl, true, nil
}

func (f *firebaseStore) SetTemplate(ctx context.Context, tpl Template) error {
	if tpl.UpdatedAt.IsZero() {
		tpl.UpdatedAt = time.Now()
	}
	body := fbTemplate{Subject: tpl.Subject, Body: tpl.BodyHTML, UpdatedAt: tpl.UpdatedAt.UTC().Format(time.RFC3339Nano)}
	_, err := f.do(ctx, http.MethodPut, "/"+f.tplPath, body, nil, nil)
	return err
}

func (f *firebaseStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	all, err := f.readAll(ctx)
	if err != nil {
		return c, err
	}
	for _, it := range all {
		c.add(it.Status)
	}
	return c, nil
}

func (f *firebaseStore) ReclaimStale(ctx context.Context, olderThan time.Time) (int, error) {
	all, err := f.readAll(ctx)
	if err != nil {
		return 0, err
	}
	// One multi-location update keeps the pass to a single write.
	patch := map[string]any{}
	for _, it := range all {
		if it.Status != StatusClaimed || !it.ClaimedAt.Before(olderThan) {
			continue
		}
		patch[it.ID+"/status"] = string(StatusUnclaimed)
		patch[it.ID+"/claimed_by"] = nil
		patch[it.ID+"/claimed_at"] = nil
	}
	if len(patch) == 0 {
		return 0, nil
	}
	if _, err := f.do(ctx, http.MethodPatch, "/"+f.collection, patch, nil, nil); err != nil {
		return 0, err
	}
	return len(patch) / 3, nil
}

func (f *firebaseStore) Add(ctx context.Context, items ...Item) error {
	if len(items) == 0 {
		return nil
	}
	patch := map[string]any{}
	for _, it := range items {
		patch[it.ID+"/email"] = it.Email
		patch[it.ID+"/app_name"] = it.DisplayName
	}
	_, err := f.do(ctx, http.MethodPatch, "/"+f.collection, patch, nil, nil)
	return err
}

// readAll returns every item ordered by key, which is the database's own
// iteration order (push ids sort chronologically).
func (f *firebaseStore) readAll(ctx context.Context) ([]Item, error) {
	var raw map[string]fbItem
	if _, err := f.do(ctx, http.MethodGet, "/"+f.collection, nil, nil, &raw); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Item, 0, len(keys))
	for _, k := range keys {
		out = append(out, raw[k].toItem(k))
	}
	return out, nil
}

func (r fbItem) toItem(id string) Item {
	it := Item{
		ID:          id,
		Email:       r.Email,
		DisplayName: r.AppName,
		Status:      normalizeStatus(r.Status),
		SentBy:      r.SentBy,
	}
	if it.DisplayName == "" {
		it.DisplayName = r.Name
	}
	if r.ClaimedBy != nil {
		it.ClaimedBy = *r.ClaimedBy
	}
	if r.ClaimedAt != nil {
		if t, err := time.Parse(time.RFC3339Nano, *r.ClaimedAt); err == nil {
			it.ClaimedAt = t
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, r.SentAt); err == nil {
		it.SentAt = t
	}
	return it
}

func (f *firebaseStore) itemPath(id string) string {
	return "/" + f.collection + "/" + url.PathEscape(id)
}

type statusError struct {
	method string
	path   string
	code   int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("firebase %s %s: http %d: %s", e.method, e.path, e.code, e.body)
}

// do performs one REST call and returns the response ETag (if any).
func (f *firebaseStore) do(ctx context.Context, method, path string, in any, headers map[string]string, out any) (string, error) {
	u := f.base + path + ".json"
	if f.auth != "" {
		u += "?auth=" + url.QueryEscape(f.auth)
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return "", err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return "", err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("firebase %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &statusError{method: method, path: path, code: resp.StatusCode, body: strings.TrimSpace(string(b))}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return "", fmt.Errorf("firebase %s %s: decode: %w", method, path, err)
		}
	}
	return resp.Header.Get("ETag"), nil
}
