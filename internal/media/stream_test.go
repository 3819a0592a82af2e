package media

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func drain(t *testing.T, s Stream) []Item {
	t.Helper()
	var out []Item
	for {
		it, err := s.Next(context.Background())
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, it)
	}
}

func TestFromSlice(t *testing.T) {
	items := []Item{
		{URL: "https://example.com/a", Basename: "a"},
		{URL: "https://example.com/b", Basename: "b"},
	}

	got := drain(t, FromSlice(items))
	if len(got) != 2 {
		t.Fatalf("expected 2 items, got %d", len(got))
	}
	if got[0].Basename != "a" || got[1].Basename != "b" {
		t.Errorf("unexpected order: %v", got)
	}
}

func TestFromChannel(t *testing.T) {
	ch := make(chan Item, 3)
	ch <- Item{URL: "u1"}
	ch <- Item{URL: "u2"}
	close(ch)

	got := drain(t, FromChannel(ch))
	if len(got) != 2 {
		t.Fatalf("expected 2 items, got %d", len(got))
	}
}

func TestFromChannelCancellation(t *testing.T) {
	ch := make(chan Item) // never fed

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := FromChannel(ch).Next(ctx)
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestFromSeq(t *testing.T) {
	seq := func(yield func(Item) bool) {
		for _, u := range []string{"u1", "u2", "u3"} {
			if !yield(Item{URL: u}) {
				return
			}
		}
	}

	got := drain(t, FromSeq(seq))
	if len(got) != 3 {
		t.Fatalf("expected 3 items, got %d", len(got))
	}
}

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.txt")
	content := "https://example.com/a extra ignored\n\nhttps://example.com/b\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	s, err := FromFile(path)
	if err != nil {
		t.Fatalf("FromFile: %v", err)
	}

	got := drain(t, s)
	if len(got) != 2 {
		t.Fatalf("expected 2 items, got %d", len(got))
	}
	if got[0].URL != "https://example.com/a" {
		t.Errorf("expected first url without trailing fields, got %q", got[0].URL)
	}
}

func TestLimit(t *testing.T) {
	s := Limit(FromURLs([]string{"a", "b", "c", "d"}), 2)
	got := drain(t, s)
	if len(got) != 2 {
		t.Fatalf("expected 2 items, got %d", len(got))
	}
}

func TestInterleave(t *testing.T) {
	a := FromURLs([]string{"a1", "a2", "a3"})
	b := FromURLs([]string{"b1"})

	got := drain(t, Interleave(a, b))
	urls := make([]string, len(got))
	for i, it := range got {
		urls[i] = it.URL
	}

	want := []string{"a1", "b1", "a2", "a3"}
	if strings.Join(urls, ",") != strings.Join(want, ",") {
		t.Errorf("unexpected interleave order: got %v, want %v", urls, want)
	}
}

func TestHashURL(t *testing.T) {
	// SHA-1 of the URL bytes, matching the identifiers produced upstream.
	got := HashURL("https://bs.plantnet.org/image/o/6d5ed1f1769b4818ed5a234670dba742bf5b28a5")
	if len(got) != 40 {
		t.Fatalf("expected 40 hex chars, got %d", len(got))
	}
	if got != HashURL("https://bs.plantnet.org/image/o/6d5ed1f1769b4818ed5a234670dba742bf5b28a5") {
		t.Error("hash is not stable")
	}
}

func TestWriteCSV(t *testing.T) {
	items := []Item{
		{URL: "u1", Basename: "b1", Label: "3189866", Subset: "train"},
		{URL: "u2", Basename: "b2", Meta: map[string]any{"speciesKey": 3189866}},
	}

	var buf bytes.Buffer
	if err := WriteCSV(context.Background(), &buf, FromSlice(items)); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines", len(lines))
	}
	if lines[0] != "url,basename,label,subset" {
		t.Errorf("unexpected header: %q", lines[0])
	}
	if !strings.Contains(lines[2], `speciesKey`) {
		t.Errorf("expected structured label serialized as JSON, got %q", lines[2])
	}
}
