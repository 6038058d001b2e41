package main

import (
	"context"
	"strings"
	"testing"

	"dispatchbot/internal/leads"
)

func TestParseCSV(t *testing.T) {
	t.Parallel()
	in := "email,app_name,id\n" +
		"a@example.com,Rafiq,\n" +
		"not-an-email,X,\n" +
		"b@example.com,,lead-2\n" +
		"a@example.com,Dup,\n"
	items, skipped, err := parse(strings.NewReader(in), "csv")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || skipped != 2 {
		t.Fatalf("items=%d skipped=%d", len(items), skipped)
	}
	if items[0].DisplayName != "Rafiq" || items[0].ID == "" {
		t.Fatalf("first = %+v", items[0])
	}
	if items[1].ID != "lead-2" || items[1].DisplayName != "" {
		t.Fatalf("second = %+v", items[1])
	}
}

func TestParseJSONL(t *testing.T) {
	t.Parallel()
	in := `{"email":"a@example.com","name":"Ann"}` + "\n\n" + `{"email":"B@example.com"}` + "\n"
	items, skipped, err := parse(strings.NewReader(in), "jsonl")
	if err != nil || skipped != 0 || len(items) != 2 {
		t.Fatalf("items=%v skipped=%d err=%v", items, skipped, err)
	}
	again, _, _ := parse(strings.NewReader(`{"email":"a@example.com"}`), "jsonl")
	if again[0].ID != items[0].ID {
		t.Fatal("derived id must be stable across imports")
	}

	if _, _, err := parse(strings.NewReader("{broken\n"), "jsonl"); err == nil {
		t.Fatal("expected decode error")
	}
	if _, _, err := parse(strings.NewReader("name\nx\n"), "csv"); err == nil {
		t.Fatal("expected missing email column error")
	}
	if _, _, err := parse(strings.NewReader(""), "xml"); err == nil {
		t.Fatal("expected unknown format error")
	}
}

func TestWriteKeepsStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := leads.NewMemory(leads.Item{ID: "lead-1", Email: "old@example.com", Status: leads.StatusSent})
	items := []leads.Item{
		{ID: "lead-1", Email: "new@example.com"},
		{ID: "lead-2", Email: "b@example.com"},
		{ID: "lead-3", Email: "c@example.com"},
	}
	n, err := write(ctx, store, items, 2)
	if err != nil || n != 3 {
		t.Fatalf("write = %d, %v", n, err)
	}
	got, _ := store.Get("lead-1")
	if got.Status != leads.StatusSent || got.Email != "new@example.com" {
		t.Fatalf("lead-1 = %+v", got)
	}
	c, _ := store.Counts(ctx)
	if c.Total != 3 || c.Unclaimed != 2 {
		t.Fatalf("counts = %+v", c)
	}
	if formatFromName("x.CSV") != "csv" || formatFromName("x.jsonl") != "jsonl" {
		t.Fatal("formatFromName")
	}
}
