package service

import (
	"context"
	"encoding/json"
	"errors"
	"lingua-chat-go/internal/model"
	"strings"
	"testing"
)

type capturingSearcher struct {
	query map[string]interface{}
	hits  []model.MessageSearchHit
	err   error
}

func (s *capturingSearcher) Search(ctx context.Context, query map[string]interface{}) ([]model.MessageSearchHit, error) {
	s.query = query
	return s.hits, s.err
}

func TestNormalizeQuery(t *testing.T) {
	cases := map[string]string{
		"  Elephants,   ZEBRAS!! ": "elephants zebras",
		"what's up?":               "what's up",
		"¿¡…":                      "",
	}
	for in, want := range cases {
		if got := normalizeQuery(in); got != want {
			t.Errorf("normalizeQuery(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSearchMessagesScopesToUser(t *testing.T) {
	searcher := &capturingSearcher{hits: []model.MessageSearchHit{{MessageDocument: model.MessageDocument{MessageID: "m1"}}}}
	svc := NewSearchService(searcher)

	hits, err := svc.SearchMessages(context.Background(), "user-1", "Elephant!", 500)
	if err != nil {
		t.Fatalf("SearchMessages returned error: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("unexpected hits %+v", hits)
	}

	raw, _ := json.Marshal(searcher.query)
	body := string(raw)
	if !strings.Contains(body, `{"term":{"user_id":"user-1"}}`) {
		t.Errorf("expected user filter in %s", body)
	}
	if !strings.Contains(body, `"content":"elephant"`) {
		t.Errorf("expected normalized match in %s", body)
	}
	if searcher.query["size"] != maxSearchSize {
		t.Errorf("expected size capped at %d, got %v", maxSearchSize, searcher.query["size"])
	}
}

func TestSearchMessagesRejectsEmptyQuery(t *testing.T) {
	svc := NewSearchService(&capturingSearcher{})
	if _, err := svc.SearchMessages(context.Background(), "user-1", " ?! ", 0); !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
}

func TestSearchMessagesPropagatesErrors(t *testing.T) {
	svc := NewSearchService(&capturingSearcher{err: errBoom})
	if _, err := svc.SearchMessages(context.Background(), "user-1", "hello", 0); !errors.Is(err, errBoom) {
		t.Fatalf("expected searcher error, got %v", err)
	}
}
