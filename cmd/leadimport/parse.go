package main

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"dispatchbot/internal/leads"
)

// record is one input row. app_name is accepted as an alias of name.
type record struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	AppName string `json:"app_name"`
}

func (r record) item() (leads.Item, bool) {
	email := strings.TrimSpace(r.Email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return leads.Item{}, false
	}
	name := strings.TrimSpace(r.Name)
	if name == "" {
		name = strings.TrimSpace(r.AppName)
	}
	id := strings.TrimSpace(r.ID)
	if id == "" {
		// Derived from the address so re-imports update instead of duplicating.
		id = uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+strings.ToLower(email))).String()
	}
	return leads.Item{ID: id, Email: email, DisplayName: name}, true
}

// parse reads every valid row and counts the rejected ones.
func parse(r io.Reader, format string) ([]leads.Item, int, error) {
	var recs []record
	var err error
	switch format {
	case "csv":
		recs, err = parseCSV(r)
	case "jsonl", "json":
		recs, err = parseJSONL(r)
	default:
		return nil, 0, fmt.Errorf("unknown format %q", format)
	}
	if err != nil {
		return nil, 0, err
	}

	seen := map[string]bool{}
	items := make([]leads.Item, 0, len(recs))
	skipped := 0
	for _, rec := range recs {
		it, ok := rec.item()
		if !ok || seen[it.ID] {
			skipped++
			continue
		}
		seen[it.ID] = true
		items = append(items, it)
	}
	return items, skipped, nil
}

func parseJSONL(r io.Reader) ([]record, error) {
	var out []record
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var rec record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}

func parseCSV(r io.Reader) ([]record, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("csv header: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := col["email"]; !ok {
		return nil, errors.New("csv header has no email column")
	}
	get := func(row []string, name string) string {
		if i, ok := col[name]; ok && i < len(row) {
			return row[i]
		}
		return ""
	}

	var out []record
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, record{
			ID:      get(row, "id"),
			Email:   get(row, "email"),
			Name:    get(row, "name"),
			AppName: get(row, "app_name"),
		})
	}
}
