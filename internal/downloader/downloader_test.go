package downloader

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"

	"github.com/plantnet/gbif-dl/internal/media"
	"github.com/plantnet/gbif-dl/internal/testutils"
)

func testParams() Params {
	return Params{
		Workers:   4,
		BatchSize: 2,
		Retries:   2,
		Backoff:   10 * time.Millisecond,
	}
}

func openMemBucket(t *testing.T) *blob.Bucket {
	t.Helper()
	bucket, err := blob.OpenBucket(context.Background(), "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	t.Cleanup(func() { bucket.Close() })
	return bucket
}

func listKeys(t *testing.T, bucket *blob.Bucket) []string {
	t.Helper()
	var keys []string
	iter := bucket.List(nil)
	for {
		obj, err := iter.Next(context.Background())
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		keys = append(keys, obj.Key)
	}
	return keys
}

func TestDownloadEndToEnd(t *testing.T) {
	good := testutils.StartMediaServer(t, map[string][]byte{
		"/ok.jpg": testutils.JPEGData(),
	})
	bad := testutils.StartFailingServer(t, http.StatusInternalServerError)

	root := t.TempDir()
	items := []media.Item{
		{URL: good.URL + "/ok.jpg", Basename: "abc"},
		{URL: bad.URL + "/broken", Basename: "def"},
	}

	stats, err := DownloadTo(context.Background(), media.FromSlice(items), root, testParams())
	if err != nil {
		t.Fatalf("DownloadTo: %v", err)
	}

	if stats.Success != 1 || stats.Skipped != 0 || stats.Failed != 1 {
		t.Errorf("unexpected stats: %v", stats)
	}
	if got := bad.Requests(); got != 2 {
		t.Errorf("expected 2 attempts against failing server, got %d", got)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "abc.jpg" {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("expected exactly [abc.jpg] on disk, got %v", names)
	}

	data, err := os.ReadFile(filepath.Join(root, "abc.jpg"))
	if err != nil {
		t.Fatalf("read abc.jpg: %v", err)
	}
	if string(data) != string(testutils.JPEGData()) {
		t.Error("written payload does not match fetched bytes")
	}
}

func TestSuffixComesFromBytes(t *testing.T) {
	// URL claims .png, bytes are JPEG: the file must be written as .jpg.
	server := testutils.StartMediaServer(t, map[string][]byte{
		"/image.png": testutils.JPEGData(),
	})
	bucket := openMemBucket(t)

	items := []media.Item{{URL: server.URL + "/image.png", Basename: "img"}}
	stats, err := Download(context.Background(), media.FromSlice(items), bucket, testParams())
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if stats.Success != 1 {
		t.Fatalf("unexpected stats: %v", stats)
	}

	keys := listKeys(t, bucket)
	if len(keys) != 1 || keys[0] != "img.jpg" {
		t.Errorf("expected [img.jpg], got %v", keys)
	}
}

func TestDownloadIdempotent(t *testing.T) {
	server := testutils.StartMediaServer(t, map[string][]byte{
		"/a": testutils.JPEGData(),
		"/b": testutils.PNGData(),
	})
	bucket := openMemBucket(t)

	items := []media.Item{
		{URL: server.URL + "/a", Basename: "one"},
		{URL: server.URL + "/b", Basename: "two"},
	}

	stats, err := Download(context.Background(), media.FromSlice(items), bucket, testParams())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if stats.Success != 2 {
		t.Fatalf("first run stats: %v", stats)
	}
	firstKeys := listKeys(t, bucket)
	requestsAfterFirst := server.Requests()

	stats, err = Download(context.Background(), media.FromSlice(items), bucket, testParams())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if stats.Skipped != 2 || stats.Success != 0 {
		t.Errorf("second run stats: %v", stats)
	}
	if server.Requests() != requestsAfterFirst {
		t.Error("second run must not refetch existing basenames")
	}

	secondKeys := listKeys(t, bucket)
	if strings.Join(firstKeys, ",") != strings.Join(secondKeys, ",") {
		t.Errorf("file set changed between runs: %v vs %v", firstKeys, secondKeys)
	}
}

func TestDownloadOverwrite(t *testing.T) {
	server := testutils.StartMediaServer(t, map[string][]byte{
		"/a": testutils.JPEGData(),
	})
	bucket := openMemBucket(t)

	items := []media.Item{{URL: server.URL + "/a", Basename: "one"}}
	params := testParams()

	if _, err := Download(context.Background(), media.FromSlice(items), bucket, params); err != nil {
		t.Fatalf("first run: %v", err)
	}

	params.Overwrite = true
	stats, err := Download(context.Background(), media.FromSlice(items), bucket, params)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if stats.Success != 1 || stats.Skipped != 0 {
		t.Errorf("overwrite run stats: %v", stats)
	}
}

func TestLabelAndSubsetSegments(t *testing.T) {
	server := testutils.StartMediaServer(t, map[string][]byte{
		"/a": testutils.JPEGData(),
	})
	bucket := openMemBucket(t)

	items := []media.Item{
		{URL: server.URL + "/a", Basename: "x1", Label: "3189866", Subset: "train"},
		{URL: server.URL + "/a", Basename: "x2", Label: "3189866"},
		{URL: server.URL + "/a", Basename: "x3"},
	}

	stats, err := Download(context.Background(), media.FromSlice(items), bucket, testParams())
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if stats.Success != 3 {
		t.Fatalf("unexpected stats: %v", stats)
	}

	want := map[string]bool{
		"train/3189866/x1.jpg": true,
		"3189866/x2.jpg":       true,
		"x3.jpg":               true,
	}
	for _, key := range listKeys(t, bucket) {
		if !want[key] {
			t.Errorf("unexpected key %q", key)
		}
		delete(want, key)
	}
	for key := range want {
		t.Errorf("missing key %q", key)
	}
}

func TestStructuredMetadataSidecar(t *testing.T) {
	server := testutils.StartMediaServer(t, map[string][]byte{
		"/a": testutils.JPEGData(),
	})
	bucket := openMemBucket(t)

	items := []media.Item{{
		URL:      server.URL + "/a",
		Basename: "occ",
		Meta:     map[string]any{"speciesKey": 3189866, "country": "FR"},
	}}

	stats, err := Download(context.Background(), media.FromSlice(items), bucket, testParams())
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if stats.Success != 1 {
		t.Fatalf("unexpected stats: %v", stats)
	}

	data, err := bucket.ReadAll(context.Background(), "occ.json")
	if err != nil {
		t.Fatalf("read sidecar: %v", err)
	}
	if !strings.Contains(string(data), "speciesKey") {
		t.Errorf("sidecar missing metadata: %s", data)
	}

	// Structured metadata must never become a path segment.
	for _, key := range listKeys(t, bucket) {
		if strings.Contains(key, "/") {
			t.Errorf("unexpected nested key %q", key)
		}
	}
}

func TestUnrecognizedContentSkipped(t *testing.T) {
	server := testutils.StartMediaServer(t, map[string][]byte{
		"/page": []byte("<html>not media</html>"),
	})
	bucket := openMemBucket(t)

	items := []media.Item{{URL: server.URL + "/page", Basename: "page"}}
	stats, err := Download(context.Background(), media.FromSlice(items), bucket, testParams())
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if stats.Skipped != 1 || stats.Success != 0 {
		t.Errorf("unexpected stats: %v", stats)
	}
	if keys := listKeys(t, bucket); len(keys) != 0 {
		t.Errorf("no file should be written, got %v", keys)
	}
}

func TestValidityPredicateRejection(t *testing.T) {
	server := testutils.StartMediaServer(t, map[string][]byte{
		"/a": testutils.JPEGData(),
	})
	bucket := openMemBucket(t)

	params := testParams()
	params.IsValidFile = func(content []byte) bool { return len(content) > 1024 }

	items := []media.Item{{URL: server.URL + "/a", Basename: "tiny"}}
	stats, err := Download(context.Background(), media.FromSlice(items), bucket, params)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if stats.Skipped != 1 {
		t.Errorf("unexpected stats: %v", stats)
	}
}

func TestBadSubsetWeightsFailFast(t *testing.T) {
	server := testutils.StartMediaServer(t, map[string][]byte{
		"/a": testutils.JPEGData(),
	})
	bucket := openMemBucket(t)

	params := testParams()
	params.RandomSubsets = map[string]float64{"train": 0.6, "test": 0.3}

	items := []media.Item{{URL: server.URL + "/a", Basename: "one"}}
	_, err := Download(context.Background(), media.FromSlice(items), bucket, params)
	if err != ErrBadSubsetWeights {
		t.Fatalf("expected ErrBadSubsetWeights, got %v", err)
	}
	if got := server.Requests(); got != 0 {
		t.Errorf("configuration errors must precede network activity, saw %d requests", got)
	}
}

func TestWeightedSubsetDistribution(t *testing.T) {
	server := testutils.StartMediaServer(t, map[string][]byte{
		"/a": testutils.JPEGData(),
	})
	bucket := openMemBucket(t)

	const n = 1000
	items := make([]media.Item, n)
	for i := range items {
		items[i] = media.Item{
			URL:      server.URL + "/a",
			Basename: fmt.Sprintf("item-%04d", i),
		}
	}

	params := testParams()
	params.Workers = 16
	params.RandomSubsets = map[string]float64{"train": 0.7, "test": 0.3}

	stats, err := Download(context.Background(), media.FromSlice(items), bucket, params)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if stats.Success != n {
		t.Fatalf("unexpected stats: %v", stats)
	}

	var train, test int
	for _, key := range listKeys(t, bucket) {
		switch {
		case strings.HasPrefix(key, "train/"):
			train++
		case strings.HasPrefix(key, "test/"):
			test++
		default:
			t.Errorf("key %q outside any subset", key)
		}
	}

	ratio := float64(train) / float64(train+test)
	if math.Abs(ratio-0.7) > 0.05 {
		t.Errorf("train ratio %.3f outside tolerance of 0.7", ratio)
	}
}

func TestExplicitSubsetNotOverwritten(t *testing.T) {
	server := testutils.StartMediaServer(t, map[string][]byte{
		"/a": testutils.JPEGData(),
	})
	bucket := openMemBucket(t)

	params := testParams()
	params.RandomSubsets = map[string]float64{"train": 0.0, "test": 1.0}

	items := []media.Item{{URL: server.URL + "/a", Basename: "one", Subset: "train"}}
	if _, err := Download(context.Background(), media.FromSlice(items), bucket, params); err != nil {
		t.Fatalf("Download: %v", err)
	}

	keys := listKeys(t, bucket)
	if len(keys) != 1 || keys[0] != "train/one.jpg" {
		t.Errorf("explicit subset must win, got %v", keys)
	}
}

func TestStrictModeStopsRun(t *testing.T) {
	bad := testutils.StartFailingServer(t, http.StatusInternalServerError)
	good := testutils.StartMediaServer(t, map[string][]byte{
		"/a": testutils.JPEGData(),
	})
	bucket := openMemBucket(t)

	params := testParams()
	params.Workers = 1
	params.BatchSize = 1
	params.Strict = true

	items := []media.Item{
		{URL: bad.URL + "/broken", Basename: "one"},
		{URL: good.URL + "/a", Basename: "two"},
	}

	stats, err := Download(context.Background(), media.FromSlice(items), bucket, params)
	if err == nil {
		t.Fatal("expected error in strict mode")
	}
	if stats.Failed != 1 {
		t.Errorf("unexpected stats: %v", stats)
	}
	if stats.Success != 0 {
		t.Errorf("strict mode must not process items after the failure: %v", stats)
	}
}

func TestStatsConservation(t *testing.T) {
	good := testutils.StartMediaServer(t, map[string][]byte{
		"/a":    testutils.JPEGData(),
		"/html": []byte("<html></html>"),
	})
	bad := testutils.StartFailingServer(t, http.StatusNotFound)
	bucket := openMemBucket(t)

	var items []media.Item
	for i := 0; i < 10; i++ {
		items = append(items,
			media.Item{URL: good.URL + "/a", Basename: fmt.Sprintf("ok-%d", i)},
			media.Item{URL: good.URL + "/html", Basename: fmt.Sprintf("html-%d", i)},
			media.Item{URL: bad.URL + "/x", Basename: fmt.Sprintf("bad-%d", i)},
		)
	}

	stats, err := Download(context.Background(), media.FromSlice(items), bucket, testParams())
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if got := stats.Total(); got != int64(len(items)) {
		t.Errorf("success+skipped+failed = %d, want %d", got, len(items))
	}
	if stats.Success != 10 || stats.Skipped != 10 || stats.Failed != 10 {
		t.Errorf("unexpected stats: %v", stats)
	}
}

// countingStream instruments Next to observe how far the feeder has pulled
// ahead of the workers.
type countingStream struct {
	inner media.Stream
	calls atomic.Int64
}

func (s *countingStream) Next(ctx context.Context) (media.Item, error) {
	it, err := s.inner.Next(ctx)
	if err == nil {
		s.calls.Add(1)
	}
	return it, err
}

func TestBackpressure(t *testing.T) {
	release := make(chan struct{})
	firstRequest := make(chan struct{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case firstRequest <- struct{}{}:
		default:
		}
		<-release
		w.Write(testutils.JPEGData())
	}))
	defer server.Close()

	items := make([]media.Item, 10)
	for i := range items {
		items[i] = media.Item{URL: server.URL + "/a", Basename: fmt.Sprintf("slow-%d", i)}
	}
	stream := &countingStream{inner: media.FromSlice(items)}

	bucket := openMemBucket(t)
	params := testParams()
	params.Workers = 1
	params.BatchSize = 1

	done := make(chan error, 1)
	var stats interface{ Total() int64 }
	go func() {
		s, err := Download(context.Background(), stream, bucket, params)
		stats = s
		done <- err
	}()

	<-firstRequest
	time.Sleep(100 * time.Millisecond) // let the feeder run as far as it can

	// 1 item in flight, 1 batch in the queue, 1 batch in the feeder's hand.
	if got := stream.calls.Load(); got > 3 {
		t.Errorf("feeder pulled %d items ahead with a single stalled worker", got)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Download: %v", err)
	}
	if stats.Total() != 10 {
		t.Errorf("expected all 10 items accounted for, got %d", stats.Total())
	}
}

func TestInvalidItemCountsFailed(t *testing.T) {
	bucket := openMemBucket(t)

	items := []media.Item{{URL: ""}}
	stats, err := Download(context.Background(), media.FromSlice(items), bucket, testParams())
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if stats.Failed != 1 {
		t.Errorf("unexpected stats: %v", stats)
	}
}

func TestDownloadFromChannelStream(t *testing.T) {
	server := testutils.StartMediaServer(t, map[string][]byte{
		"/a": testutils.JPEGData(),
	})
	bucket := openMemBucket(t)

	ch := make(chan media.Item)
	go func() {
		defer close(ch)
		for i := 0; i < 5; i++ {
			ch <- media.Item{URL: server.URL + "/a", Basename: fmt.Sprintf("ch-%d", i)}
		}
	}()

	stats, err := Download(context.Background(), media.FromChannel(ch), bucket, testParams())
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if stats.Success != 5 {
		t.Errorf("unexpected stats: %v", stats)
	}
}

func TestDownloadContextCancellation(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write(testutils.JPEGData())
	}))
	defer server.Close()
	defer close(release)

	bucket := openMemBucket(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	items := make([]media.Item, 4)
	for i := range items {
		items[i] = media.Item{URL: server.URL + "/a", Basename: fmt.Sprintf("c-%d", i)}
	}

	params := testParams()
	params.Workers = 1
	params.BatchSize = 1

	_, err := Download(ctx, media.FromSlice(items), bucket, params)
	if err == nil {
		t.Error("expected error due to context cancellation")
	}
}
