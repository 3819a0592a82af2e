package downloader

import (
	"context"
	"encoding/json"
	"io"
	"math/rand/v2"
	"path"
	"sort"
	"strings"

	"gocloud.dev/blob"

	"github.com/plantnet/gbif-dl/internal/classify"
	"github.com/plantnet/gbif-dl/internal/media"
)

// subsetAssigner draws a partition name from the configured weights for
// items that carry no explicit subset. Keys are kept sorted so the
// cumulative draw is deterministic for a given random value.
type subsetAssigner struct {
	names   []string
	weights []float64
}

func newSubsetAssigner(weights map[string]float64) *subsetAssigner {
	if len(weights) == 0 {
		return nil
	}

	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Strings(names)

	w := make([]float64, len(names))
	for i, name := range names {
		w[i] = weights[name]
	}
	return &subsetAssigner{names: names, weights: w}
}

// pick draws one subset name with the configured probabilities.
func (a *subsetAssigner) pick() string {
	r := rand.Float64()
	var cum float64
	for i, w := range a.weights {
		cum += w
		if r < cum {
			return a.names[i]
		}
	}
	return a.names[len(a.names)-1]
}

// resolveKey maps an item to its target blob key prefix: subset and
// plain-string label become path segments under the root.
func (d *downloader) resolveKey(item media.Item) (dir, basename string) {
	var segments []string

	subset := item.Subset
	if subset == "" && d.subsets != nil {
		subset = d.subsets.pick()
	}
	if subset != "" {
		segments = append(segments, sanitizeSegment(subset))
	}
	if item.Label != "" {
		segments = append(segments, sanitizeSegment(item.Label))
	}

	basename = item.Basename
	if basename == "" {
		basename = media.HashURL(item.URL)
	}

	return path.Join(segments...), basename
}

// sanitizeSegment keeps metadata-derived values from escaping the layout.
func sanitizeSegment(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	if s == "." || s == ".." {
		return "_"
	}
	return s
}

// hasBasename reports whether any object with the given basename (any
// suffix) already exists under dir.
func (d *downloader) hasBasename(ctx context.Context, dir, basename string) (bool, error) {
	iter := d.bucket.List(&blob.ListOptions{
		Prefix: path.Join(dir, basename),
	})
	_, err := iter.Next(ctx)
	if err == io.EOF {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeSkipped
	outcomeFailed
)

// process runs one item through the dedup guard, fetch, classification and
// write, returning its outcome. Errors never abort the run here; the
// caller decides continuation from the outcome.
func (d *downloader) process(ctx context.Context, item media.Item) (outcome, error) {
	if err := item.Validate(); err != nil {
		return outcomeFailed, err
	}

	dir, basename := d.resolveKey(item)

	exists, err := d.hasBasename(ctx, dir, basename)
	if err != nil {
		return outcomeFailed, err
	}
	if exists && !d.params.Overwrite {
		return outcomeSkipped, nil
	}

	content, err := d.client.Fetch(ctx, item.URL)
	if err != nil {
		return outcomeFailed, err
	}

	// The suffix comes from the bytes, never from the URL or the label.
	kind, err := classify.Detect(content)
	if err != nil {
		return outcomeSkipped, err
	}

	if d.params.IsValidFile != nil && !d.params.IsValidFile(content) {
		return outcomeSkipped, errContentRejected
	}

	key := path.Join(dir, basename) + kind.Suffix
	if err := d.bucket.WriteAll(ctx, key, content, nil); err != nil {
		return outcomeFailed, err
	}

	if item.Meta != nil {
		if err := d.writeSidecar(ctx, dir, basename, item.Meta); err != nil {
			return outcomeFailed, err
		}
	}

	return outcomeSuccess, nil
}

// writeSidecar stores structured metadata as basename.json next to the asset.
func (d *downloader) writeSidecar(ctx context.Context, dir, basename string, meta map[string]any) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return d.bucket.WriteAll(ctx, path.Join(dir, basename)+".json", data, nil)
}
