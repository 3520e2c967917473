package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"text-pipeline/internal/llm"
)

type mapStore struct {
	mu      sync.Mutex
	data    map[string]string
	ttl     time.Duration
	failGet bool
	failSet bool
}

func newMapStore() *mapStore {
	return &mapStore{data: make(map[string]string)}
}

func (s *mapStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet {
		return "", false, errors.New("redis down")
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *mapStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSet {
		return errors.New("redis down")
	}
	s.data[key] = value
	s.ttl = ttl
	return nil
}

type countingClient struct {
	calls int
}

func (c *countingClient) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	c.calls++
	return &llm.Response{Text: "回复:" + req.Prompt}, nil
}

func TestCachedServesSecondCallFromStore(t *testing.T) {
	store := newMapStore()
	next := &countingClient{}
	client := Cached(next, store, time.Minute, WithPrefix("test:"))

	for i := 0; i < 2; i++ {
		resp, err := client.Generate(context.Background(), llm.Request{Prompt: "你好"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.Text != "回复:你好" {
			t.Fatalf("unexpected text: %q", resp.Text)
		}
	}
	if next.calls != 1 {
		t.Fatalf("expected one upstream call, got %d", next.calls)
	}
	if _, ok := store.data["test:"+Key(llm.Request{Prompt: "你好"})]; !ok || store.ttl != time.Minute {
		t.Fatalf("value not stored with prefix and ttl: %+v", store.data)
	}
}

func TestCachedFallsThroughOnStoreErrors(t *testing.T) {
	store := newMapStore()
	store.failGet = true
	store.failSet = true
	next := &countingClient{}
	client := Cached(next, store, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := client.Generate(context.Background(), llm.Request{Prompt: "x"}); err != nil {
			t.Fatalf("store errors must not fail the call: %v", err)
		}
	}
	if next.calls != 2 {
		t.Fatalf("expected every call to reach upstream, got %d", next.calls)
	}
}

func TestKeyDependsOnAllFields(t *testing.T) {
	base := llm.Request{System: "s", Prompt: "p", Model: "m", Temperature: 0.2, MaxTokens: 10}
	variants := []llm.Request{
		{System: "s2", Prompt: "p", Model: "m", Temperature: 0.2, MaxTokens: 10},
		{System: "s", Prompt: "p2", Model: "m", Temperature: 0.2, MaxTokens: 10},
		{System: "s", Prompt: "p", Model: "m2", Temperature: 0.2, MaxTokens: 10},
		{System: "s", Prompt: "p", Model: "m", Temperature: 0.3, MaxTokens: 10},
		{System: "s", Prompt: "p", Model: "m", Temperature: 0.2, MaxTokens: 11},
		{System: "sp", Prompt: "", Model: "m", Temperature: 0.2, MaxTokens: 10},
	}
	for _, v := range variants {
		if Key(v) == Key(base) {
			t.Fatalf("key collision between %+v and %+v", v, base)
		}
	}
	if Key(base) != Key(base) {
		t.Fatalf("key must be deterministic")
	}
}
