package gbif

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/url"
	"sort"
	"strconv"

	"github.com/plantnet/gbif-dl/internal/media"
)

// Media types recognized by the occurrence API.
const (
	MediaTypeStillImage  = "StillImage"
	MediaTypeMovingImage = "MovingImage"
	MediaTypeSound       = "Sound"
)

// DefaultPageLimit is the occurrence search page size.
const DefaultPageLimit = 300

// Query holds occurrence search parameters. Multiple values for the same
// key are sent as repeated parameters, which the API treats as OR.
type Query map[string][]string

func (q Query) values() url.Values {
	values := url.Values{}
	for key, vs := range q {
		for _, v := range vs {
			values.Add(key, v)
		}
	}
	return values
}

func (q Query) clone() Query {
	out := make(Query, len(q))
	for key, vs := range q {
		out[key] = append([]string(nil), vs...)
	}
	return out
}

// SearchOptions configures a media search.
type SearchOptions struct {
	// Query holds the occurrence filters, e.g. {"speciesKey": ["5352251"]}.
	Query Query

	// Label names the occurrence field whose value becomes the item label.
	// When empty, the full occurrence record is attached as structured
	// metadata instead.
	Label string

	// MediaType defaults to StillImage.
	MediaType string

	// PageLimit is the API page size. Default: DefaultPageLimit
	PageLimit int

	// Subset tags every produced item with a fixed subset name.
	Subset string

	// SplitBy lists query keys whose value combinations become separate,
	// interleaved streams. Splitting balances rare and common values
	// instead of exhausting one before the next.
	SplitBy []string

	// SubsetStreams routes split streams into named subsets by their query
	// values, e.g. {"train": {"speciesKey": ["5352251"]}, "test":
	// {"speciesKey": ["*"]}}. The wildcard "*" catches everything not
	// claimed by another subset.
	SubsetStreams map[string]map[string][]string

	// MaxPerStream caps the items drawn from each split stream.
	MaxPerStream int

	// MaxTotal caps the items produced overall.
	MaxTotal int
}

type searchPage struct {
	Offset       int64            `json:"offset"`
	Limit        int64            `json:"limit"`
	EndOfRecords bool             `json:"endOfRecords"`
	Count        int64            `json:"count"`
	Results      []map[string]any `json:"results"`
}

// searchStream pulls occurrence pages on demand and yields one media item
// per occurrence that carries media.
type searchStream struct {
	client    *Client
	query     Query
	label     string
	mediaType string
	pageLimit int
	subset    string

	offset  int64
	done    bool
	pending []media.Item
}

// Search returns a lazy stream over all occurrences matching the options.
// Occurrences with several attached media yield one randomly chosen entry.
func (c *Client) Search(opts SearchOptions) media.Stream {
	if opts.MediaType == "" {
		opts.MediaType = MediaTypeStillImage
	}
	if opts.PageLimit <= 0 {
		opts.PageLimit = DefaultPageLimit
	}
	return &searchStream{
		client:    c,
		query:     opts.Query,
		label:     opts.Label,
		mediaType: opts.MediaType,
		pageLimit: opts.PageLimit,
		subset:    opts.Subset,
	}
}

func (s *searchStream) Next(ctx context.Context) (media.Item, error) {
	for len(s.pending) == 0 {
		if s.done {
			return media.Item{}, io.EOF
		}
		if err := s.fetchPage(ctx); err != nil {
			return media.Item{}, err
		}
	}

	item := s.pending[0]
	s.pending = s.pending[1:]
	return item, nil
}

func (s *searchStream) fetchPage(ctx context.Context) error {
	values := s.query.values()
	values.Set("mediaType", s.mediaType)
	values.Set("offset", strconv.FormatInt(s.offset, 10))
	values.Set("limit", strconv.Itoa(s.pageLimit))

	var page searchPage
	url := s.client.baseURL + "/occurrence/search?" + values.Encode()
	if err := s.client.getJSON(ctx, url, &page); err != nil {
		return err
	}

	for _, record := range page.Results {
		item, ok := s.itemFromRecord(record)
		if !ok {
			continue
		}
		s.pending = append(s.pending, item)
	}

	if page.EndOfRecords {
		s.done = true
	} else {
		s.offset = page.Offset + int64(s.pageLimit)
	}
	return nil
}

func (s *searchStream) itemFromRecord(record map[string]any) (media.Item, bool) {
	attached, _ := record["media"].([]any)
	if len(attached) == 0 {
		return media.Item{}, false
	}

	entry, _ := attached[rand.IntN(len(attached))].(map[string]any)
	identifier, _ := entry["identifier"].(string)
	if identifier == "" {
		return media.Item{}, false
	}

	item := media.Item{
		URL:      identifier,
		Basename: media.HashURL(identifier),
		Subset:   s.subset,
	}
	if s.label != "" {
		item.Label = formatLabel(record[s.label])
	} else {
		item.Meta = record
	}
	return item, true
}

// formatLabel renders an occurrence field as a path-friendly string.
// Numeric keys arrive as JSON floats and must not print in scientific
// notation.
func formatLabel(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		if v == math.Trunc(v) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// GenerateURLs builds the media stream for the options, splitting the query
// into balanced per-value streams when requested.
func (c *Client) GenerateURLs(opts SearchOptions) (media.Stream, error) {
	if len(opts.SplitBy) == 0 {
		stream := c.Search(opts)
		if opts.MaxPerStream > 0 && (opts.MaxTotal <= 0 || opts.MaxPerStream < opts.MaxTotal) {
			opts.MaxTotal = opts.MaxPerStream
		}
		if opts.MaxTotal > 0 {
			stream = media.Limit(stream, opts.MaxTotal)
		}
		return stream, nil
	}

	base := opts.Query.clone()
	split := make(map[string][]string, len(opts.SplitBy))
	for _, key := range opts.SplitBy {
		values, ok := base[key]
		if !ok || len(values) == 0 {
			return nil, fmt.Errorf("gbif: split key %q has no query values", key)
		}
		split[key] = values
		delete(base, key)
	}

	var streams []media.Stream
	for _, combo := range product(split) {
		query := base.clone()
		for key, value := range combo {
			query[key] = []string{value}
		}

		sub := c.Search(SearchOptions{
			Query:     query,
			Label:     opts.Label,
			MediaType: opts.MediaType,
			PageLimit: opts.PageLimit,
			Subset:    subsetFor(combo, opts.SubsetStreams),
		})
		if opts.MaxPerStream > 0 {
			sub = media.Limit(sub, opts.MaxPerStream)
		}
		streams = append(streams, sub)
	}

	stream := media.Interleave(streams...)
	if opts.MaxTotal > 0 {
		stream = media.Limit(stream, opts.MaxTotal)
	}
	return stream, nil
}

// product expands a map of value lists into every key/value combination,
// in a deterministic key order.
func product(values map[string][]string) []map[string]string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	combos := []map[string]string{{}}
	for _, key := range keys {
		var next []map[string]string
		for _, combo := range combos {
			for _, value := range values[key] {
				expanded := make(map[string]string, len(combo)+1)
				for k, v := range combo {
					expanded[k] = v
				}
				expanded[key] = value
				next = append(next, expanded)
			}
		}
		combos = next
	}
	return combos
}

// subsetFor picks the subset a split combination belongs to. Exact value
// matches win over the "*" wildcard; subset names are checked in sorted
// order so routing is deterministic.
func subsetFor(combo map[string]string, subsetStreams map[string]map[string][]string) string {
	if len(subsetStreams) == 0 {
		return ""
	}

	names := make([]string, 0, len(subsetStreams))
	for name := range subsetStreams {
		names = append(names, name)
	}
	sort.Strings(names)

	wildcard := ""
	for _, name := range names {
		for key, wanted := range subsetStreams[name] {
			value, ok := combo[key]
			if !ok {
				continue
			}
			for _, w := range wanted {
				if w == value {
					return name
				}
				if w == "*" && wildcard == "" {
					wildcard = name
				}
			}
		}
	}
	return wildcard
}
