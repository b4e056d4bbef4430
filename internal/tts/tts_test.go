package tts

import (
	"strings"
	"testing"
)

func TestCacheRoundTrip(t *testing.T) {
	c := NewCache()
	if _, ok := c.Get("hello"); ok {
		t.Fatal("empty cache returned a hit")
	}

	pcm := []int16{1, 2, 3}
	c.Put("hello", pcm)
	got, ok := c.Get("hello")
	if !ok || len(got) != 3 {
		t.Fatalf("cache miss after put: %v %v", got, ok)
	}
	if !c.Has("hello") {
		t.Fatal("Has disagrees with Get")
	}
}

func TestCacheEvictsOldest(t *testing.T) {
	c := NewCache()
	for i := 0; i < cacheMaxEntries+1; i++ {
		c.Put(strings.Repeat("x", i+1), []int16{int16(i)})
	}
	if c.Has("x") {
		t.Fatal("oldest entry survived eviction")
	}
	if !c.Has(strings.Repeat("x", cacheMaxEntries+1)) {
		t.Fatal("newest entry missing")
	}
}

func TestTakePhraseWaitsForBoundary(t *testing.T) {
	s := &StreamSpeaker{}

	s.pending.WriteString("short.")
	if got := s.takePhraseLocked(); got != "" {
		t.Fatalf("emitted a too-short phrase: %q", got)
	}

	s.pending.Reset()
	s.pending.WriteString("This is a full sentence that is long enough. And more")
	got := s.takePhraseLocked()
	if got != "This is a full sentence that is long enough." {
		t.Fatalf("unexpected phrase: %q", got)
	}
	if rest := s.pending.String(); rest != "And more" {
		t.Fatalf("remainder wrong: %q", rest)
	}
}

func TestTakePhrasePrefersLastBoundary(t *testing.T) {
	s := &StreamSpeaker{}
	s.pending.WriteString("First sentence is long enough. Second one also qualifies! tail")
	got := s.takePhraseLocked()
	if got != "First sentence is long enough. Second one also qualifies!" {
		t.Fatalf("unexpected phrase: %q", got)
	}
	if rest := s.pending.String(); rest != "tail" {
		t.Fatalf("remainder wrong: %q", rest)
	}
}
