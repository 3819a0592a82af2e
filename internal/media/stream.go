package media

import (
	"bufio"
	"context"
	"io"
	"iter"
	"os"
	"strings"
)

// Stream is a pull-based sequence of items. Next returns io.EOF once the
// stream is exhausted. Streams are not safe for concurrent callers; the
// engine drains a stream from a single feeder goroutine.
type Stream interface {
	Next(ctx context.Context) (Item, error)
}

type sliceStream struct {
	items []Item
	pos   int
}

// FromSlice adapts a finite slice of items.
func FromSlice(items []Item) Stream {
	return &sliceStream{items: items}
}

func (s *sliceStream) Next(ctx context.Context) (Item, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, err
	}
	if s.pos >= len(s.items) {
		return Item{}, io.EOF
	}
	it := s.items[s.pos]
	s.pos++
	return it, nil
}

// FromURLs adapts bare URLs. The bare-URL producer shape is resolved here,
// once, into full descriptors.
func FromURLs(urls []string) Stream {
	items := make([]Item, len(urls))
	for i, u := range urls {
		items[i] = Item{URL: u}
	}
	return FromSlice(items)
}

type chanStream struct {
	ch <-chan Item
}

// FromChannel adapts a channel-fed producer, finite or unbounded. The stream
// ends when the channel is closed.
func FromChannel(ch <-chan Item) Stream {
	return &chanStream{ch: ch}
}

func (s *chanStream) Next(ctx context.Context) (Item, error) {
	select {
	case <-ctx.Done():
		return Item{}, ctx.Err()
	case it, ok := <-s.ch:
		if !ok {
			return Item{}, io.EOF
		}
		return it, nil
	}
}

type seqStream struct {
	next func() (Item, bool)
	stop func()
}

// FromSeq adapts a pull iterator, finite or unbounded.
func FromSeq(seq iter.Seq[Item]) Stream {
	next, stop := iter.Pull(seq)
	return &seqStream{next: next, stop: stop}
}

func (s *seqStream) Next(ctx context.Context) (Item, error) {
	if err := ctx.Err(); err != nil {
		s.stop()
		return Item{}, err
	}
	it, ok := s.next()
	if !ok {
		s.stop()
		return Item{}, io.EOF
	}
	return it, nil
}

// FromFile reads a URL list file: one URL per line, anything after the first
// whitespace ignored. Blank lines are skipped.
func FromFile(path string) (Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		urls = append(urls, strings.Fields(line)[0])
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return FromURLs(urls), nil
}

type limitStream struct {
	inner Stream
	left  int
}

// Limit caps a stream at n items. A negative n leaves the stream unbounded.
func Limit(s Stream, n int) Stream {
	if n < 0 {
		return s
	}
	return &limitStream{inner: s, left: n}
}

func (s *limitStream) Next(ctx context.Context) (Item, error) {
	if s.left <= 0 {
		return Item{}, io.EOF
	}
	it, err := s.inner.Next(ctx)
	if err != nil {
		return Item{}, err
	}
	s.left--
	return it, nil
}

type interleaveStream struct {
	streams []Stream
	pos     int
}

// Interleave drains multiple streams round-robin, one item from each in
// turn. Exhausted streams drop out; the result ends when all inputs have
// ended. This balances items across query streams without weighting.
func Interleave(streams ...Stream) Stream {
	return &interleaveStream{streams: streams}
}

func (s *interleaveStream) Next(ctx context.Context) (Item, error) {
	for len(s.streams) > 0 {
		if s.pos >= len(s.streams) {
			s.pos = 0
		}
		it, err := s.streams[s.pos].Next(ctx)
		if err == io.EOF {
			s.streams = append(s.streams[:s.pos], s.streams[s.pos+1:]...)
			continue
		}
		if err != nil {
			return Item{}, err
		}
		s.pos++
		return it, nil
	}
	return Item{}, io.EOF
}
