// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/arxiv-harvest/internal/arxiv"
	"github.com/pdiddy/arxiv-harvest/internal/arxivid"
	"github.com/pdiddy/arxiv-harvest/internal/ledger"
	"github.com/pdiddy/arxiv-harvest/internal/semantic"
	"github.com/pdiddy/arxiv-harvest/internal/store"
	"github.com/pdiddy/arxiv-harvest/pkg/types"
)

func tarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		body := files[name]
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

// fakeArchive serves records and source bundles from memory. It is shared
// by every worker and safe for concurrent use.
type fakeArchive struct {
	latest  map[string]int    // base id -> latest version
	sources map[string][]byte // revision -> bundle bytes
	fail    bool
	block   chan struct{} // closed on the first blocked fetch

	fetches   atomic.Int64
	downloads atomic.Int64
	blockOnce sync.Once
}

func (f *fakeArchive) FetchWithRetry(ctx context.Context, id arxivid.Identifier, version int, _ types.RetryPolicy, _ func(int, time.Duration, error)) (*arxiv.Record, error) {
	f.fetches.Add(1)
	if f.block != nil {
		f.blockOnce.Do(func() { close(f.block) })
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.fail {
		return nil, &arxiv.StatusError{StatusCode: 503, URL: "fake"}
	}
	latest, ok := f.latest[id.String()]
	if !ok {
		return nil, arxiv.ErrNotFound
	}
	if version == 0 {
		version = latest
	}
	published := time.Date(2023, 4, 16, 0, 0, 0, 0, time.UTC)
	return &arxiv.Record{
		ShortID:    fmt.Sprintf("%sv%d", id, version),
		Title:      "Paper " + id.String(),
		Authors:    []string{"A. Author"},
		Published:  published,
		Updated:    published.AddDate(0, 0, version-1),
		Categories: []string{"cs.CL"},
		Summary:    "Abstract.",
	}, nil
}

func (f *fakeArchive) DownloadSource(_ context.Context, rev arxivid.Revision, destPath string) error {
	f.downloads.Add(1)
	body, ok := f.sources[rev.String()]
	if !ok {
		return arxiv.ErrNotFound
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(destPath, body, 0o644)
}

type fakeReferences struct {
	refs map[string][]semantic.Reference
	fail bool

	mu   sync.Mutex
	seen map[string]int
}

func (f *fakeReferences) FetchReferences(_ context.Context, id string, _ types.RetryPolicy, _ func(int, time.Duration, error)) ([]semantic.Reference, error) {
	f.mu.Lock()
	if f.seen == nil {
		f.seen = map[string]int{}
	}
	f.seen[id]++
	f.mu.Unlock()
	if f.fail {
		return nil, semantic.ErrRateLimited
	}
	return f.refs[id], nil
}

func (f *fakeReferences) calls() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int, len(f.seen))
	for k, v := range f.seen {
		out[k] = v
	}
	return out
}

type errSource struct{ err error }

func (s errSource) Identifiers(context.Context) ([]arxivid.Identifier, error) { return nil, s.err }

func testConfig(n, m int) Config {
	return Config{
		DownloadWorkers:  n,
		ReferenceWorkers: m,
		IDQueueSize:      1,
		ResultQueueSize:  1,
		DownloadPolicy:   types.RetryPolicy{MaxAttempts: 1},
		ReferencePolicy:  types.RetryPolicy{MaxAttempts: 1},
	}
}

func newTestPipeline(t *testing.T, cfg Config, src Source, a *fakeArchive, r *fakeReferences, l *ledger.Ledger) (*Pipeline, string) {
	t.Helper()
	root := t.TempDir()
	p, err := New(cfg, Deps{
		Source:        src,
		NewArchive:    func() Archive { return a },
		NewReferences: func() References { return r },
		Layout:        store.Layout{Root: root},
		Ledger:        l,
	})
	require.NoError(t, err)
	return p, root
}

func run(t *testing.T, p *Pipeline) (Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := p.Run(ctx)
	require.NoError(t, ctx.Err(), "run did not terminate")
	return res, err
}

func sequence(n int) StaticSource {
	ids := make(StaticSource, n)
	for i := range ids {
		ids[i] = arxivid.New(4, 2023, i+1)
	}
	return ids
}

func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			rel, _ := filepath.Rel(dir, path)
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	require.NoError(t, err)
	sort.Strings(files)
	return files
}

func TestNew_Validation(t *testing.T) {
	a, r := &fakeArchive{}, &fakeReferences{}
	good := Deps{
		Source:        StaticSource{},
		NewArchive:    func() Archive { return a },
		NewReferences: func() References { return r },
		Layout:        store.Layout{Root: t.TempDir()},
	}

	_, err := New(Config{}, good)
	require.NoError(t, err)

	noSource := good
	noSource.Source = nil
	_, err = New(Config{}, noSource)
	assert.Error(t, err)

	noFactory := good
	noFactory.NewArchive = nil
	_, err = New(Config{}, noFactory)
	assert.Error(t, err)

	noRoot := good
	noRoot.Layout = store.Layout{}
	_, err = New(Config{}, noRoot)
	assert.Error(t, err)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, 3, cfg.DownloadWorkers)
	assert.Equal(t, 2, cfg.ReferenceWorkers)
	assert.Equal(t, 6, cfg.IDQueueSize)
	assert.Equal(t, 4, cfg.ResultQueueSize)
	assert.Equal(t, 10, cfg.ReferencePolicy.MaxAttempts)
	assert.False(t, cfg.ReferencePolicy.Unbounded)
	assert.Equal(t, []string{".tex", ".bib"}, cfg.SourceSuffixes)

	cfg = ConfigFrom(types.PipelineConfig{DownloadWorkers: 5, DownloadDelay: -time.Second}).withDefaults()
	assert.Equal(t, 5, cfg.DownloadWorkers)
	assert.Equal(t, 10, cfg.IDQueueSize)
	assert.Zero(t, cfg.DownloadDelay)
}

func TestRun_SinglePaperEndToEnd(t *testing.T) {
	id := arxivid.New(4, 2023, 7856)
	a := &fakeArchive{
		latest: map[string]int{"2304.07856": 1},
		sources: map[string][]byte{
			"2304.07856v1": tarGz(t, map[string]string{
				"main.tex":       `\documentclass{article}`,
				"refs.bib":       "@article{x}",
				"figs/plot.png":  "png",
				"build/main.log": "log",
			}),
		},
	}
	r := &fakeReferences{refs: map[string][]semantic.Reference{
		"2304.07856": {
			{Title: "Attention Is All You Need", Year: 2017, ExternalIDs: semantic.ExternalIDs{ArXiv: "1706.03762"}},
			{Title: "No preprint", Year: 2001},
		},
	}}

	p, root := newTestPipeline(t, testConfig(3, 2), StaticSource{id}, a, r, nil)
	res, err := run(t, p)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Resolved)
	assert.Equal(t, 1, res.Downloaded)
	assert.Equal(t, 1, res.RevisionsFetched)
	assert.Equal(t, 1, res.ReferencesSaved)
	assert.Equal(t, 1, res.ReferencesDropped)
	assert.False(t, res.HasFailures())

	assert.Equal(t, []string{
		"202304-07856/metadata.json",
		"202304-07856/references.json",
		"202304-07856/tex/2304.07856v1/main.tex",
		"202304-07856/tex/2304.07856v1/refs.bib",
	}, listFiles(t, root))

	layout := store.Layout{Root: root}
	meta, err := layout.ReadMetadata(id)
	require.NoError(t, err)
	assert.Equal(t, "2304.07856", meta.ArxivID)
	assert.Equal(t, 1, meta.LatestVersion)

	refs, err := layout.ReadReferences(id)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Contains(t, refs, "201706-03762")

	for _, s := range []Stage{StageResolve, StageDownload, StageReferences} {
		assert.Equal(t, StateDone, p.State(s), s)
	}
}

func TestRun_UnavailableRevisionStillSavesMetadata(t *testing.T) {
	id := arxivid.New(4, 2023, 7856)
	a := &fakeArchive{
		latest: map[string]int{"2304.07856": 3},
		sources: map[string][]byte{
			"2304.07856v1": tarGz(t, map[string]string{"a.tex": "v1"}),
			"2304.07856v2": []byte("%PDF-1.5 not a tarball"),
			"2304.07856v3": tarGz(t, map[string]string{"a.tex": "v3"}),
		},
	}
	r := &fakeReferences{}

	p, root := newTestPipeline(t, testConfig(1, 1), StaticSource{id}, a, r, nil)
	res, err := run(t, p)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Downloaded)
	assert.Equal(t, 2, res.RevisionsFetched)
	assert.Equal(t, 1, res.RevisionsSkipped)
	assert.Equal(t, []string{
		"202304-07856/metadata.json",
		"202304-07856/references.json",
		"202304-07856/tex/2304.07856v1/a.tex",
		"202304-07856/tex/2304.07856v3/a.tex",
	}, listFiles(t, root))
	assert.NoDirExists(t, filepath.Join(root, "202304-07856", "tex", "2304.07856v2"))

	meta, err := store.Layout{Root: root}.ReadMetadata(id)
	require.NoError(t, err)
	assert.Equal(t, 3, meta.LatestVersion)
	assert.Len(t, meta.PDFURLs, 3)
}

func TestRun_MissingPaperIsSkipped(t *testing.T) {
	ids := StaticSource{arxivid.New(4, 2023, 1), arxivid.New(4, 2023, 2)}
	a := &fakeArchive{
		latest:  map[string]int{"2304.00002": 1},
		sources: map[string][]byte{"2304.00002v1": tarGz(t, map[string]string{"x.tex": "x"})},
	}
	r := &fakeReferences{}

	p, root := newTestPipeline(t, testConfig(2, 2), ids, a, r, nil)
	res, err := run(t, p)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Downloaded)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, map[string]int{"2304.00002": 1}, r.calls())
	_, statErr := os.Stat(filepath.Join(root, "202304-00001"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_ReferenceFailureWritesEmptyMap(t *testing.T) {
	id := arxivid.New(4, 2023, 7856)
	a := &fakeArchive{
		latest:  map[string]int{"2304.07856": 1},
		sources: map[string][]byte{"2304.07856v1": tarGz(t, map[string]string{"main.tex": "x"})},
	}
	r := &fakeReferences{fail: true}

	p, root := newTestPipeline(t, testConfig(1, 1), StaticSource{id}, a, r, nil)
	res, err := run(t, p)
	require.NoError(t, err)

	assert.Equal(t, 1, res.ReferencesFailed)
	assert.True(t, res.HasFailures())
	data, err := os.ReadFile(filepath.Join(root, "202304-07856", "references.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))
}

// Every pairing of pool sizes must terminate even when every paper fails
// and the queues hold a single message.
func TestRun_TerminatesForAnyPoolSizes(t *testing.T) {
	cases := []struct{ n, m int }{
		{1, 1}, {3, 1}, {1, 3}, {4, 2}, {2, 4}, {8, 1},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("download=%d/references=%d", tc.n, tc.m), func(t *testing.T) {
			a := &fakeArchive{fail: true}
			r := &fakeReferences{fail: true}
			p, _ := newTestPipeline(t, testConfig(tc.n, tc.m), sequence(10), a, r, nil)

			res, err := run(t, p)
			require.NoError(t, err)
			assert.Equal(t, 10, res.Failed)
			assert.Equal(t, 10, res.Total())
			assert.Empty(t, r.calls())
		})
	}
}

func TestRun_EveryPaperReachesReferencesOnce(t *testing.T) {
	ids := sequence(20)
	a := &fakeArchive{latest: map[string]int{}, sources: map[string][]byte{}}
	for _, id := range ids {
		a.latest[id.String()] = 1
		a.sources[id.String()+"v1"] = tarGz(t, map[string]string{"main.tex": id.String()})
	}
	r := &fakeReferences{}

	p, root := newTestPipeline(t, testConfig(3, 2), ids, a, r, nil)
	res, err := run(t, p)
	require.NoError(t, err)

	assert.Equal(t, 20, res.Downloaded)
	assert.Equal(t, 20, res.ReferencesSaved)
	calls := r.calls()
	require.Len(t, calls, 20)
	for id, n := range calls {
		assert.Equal(t, 1, n, id)
	}

	scanned, err := store.Scan(root)
	require.NoError(t, err)
	assert.Len(t, scanned, 20)
}

func TestRun_SourceErrorStillDrains(t *testing.T) {
	boom := errors.New("window invalid")
	a, r := &fakeArchive{}, &fakeReferences{}
	p, _ := newTestPipeline(t, testConfig(3, 2), errSource{err: boom}, a, r, nil)

	res, err := run(t, p)
	require.ErrorIs(t, err, boom)
	assert.Zero(t, res.Total())
	assert.Zero(t, a.fetches.Load())
	assert.Equal(t, StateDone, p.State(StageReferences))
}

func TestRun_CancellationStopsEveryStage(t *testing.T) {
	a := &fakeArchive{block: make(chan struct{})}
	r := &fakeReferences{}
	p, _ := newTestPipeline(t, testConfig(2, 2), sequence(50), a, r, nil)

	ctx, cancel := context.WithCancel(context.Background())
	type outcome struct {
		res Result
		err error
	}
	finished := make(chan outcome, 1)
	go func() {
		res, err := p.Run(ctx)
		finished <- outcome{res, err}
	}()

	select {
	case <-a.block:
	case <-time.After(5 * time.Second):
		t.Fatal("no download started")
	}
	cancel()

	select {
	case o := <-finished:
		assert.ErrorIs(t, o.err, context.Canceled)
		assert.Zero(t, o.res.Failed, "cancelled papers are not failures")
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}
}

func TestRun_ResumeSkipsCompletedPapers(t *testing.T) {
	complete := arxivid.New(4, 2023, 1)
	half := arxivid.New(4, 2023, 2)
	fresh := arxivid.New(4, 2023, 3)

	l, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	a := &fakeArchive{
		latest:  map[string]int{"2304.00003": 1},
		sources: map[string][]byte{"2304.00003v1": tarGz(t, map[string]string{"main.tex": "x"})},
	}
	r := &fakeReferences{}
	cfg := testConfig(1, 1)
	cfg.Resume = true
	p, root := newTestPipeline(t, cfg, StaticSource{complete, half, fresh}, a, r, l)

	ctx := context.Background()
	layout := store.Layout{Root: root}
	for _, id := range []arxivid.Identifier{complete, half} {
		require.NoError(t, layout.WriteMetadata(id, types.PaperMetadata{ArxivID: id.String(), LatestVersion: 1}))
		require.NoError(t, l.RecordDownload(ctx, ledger.Outcome{ID: id, LatestVersion: 1, Revisions: 1}))
	}
	require.NoError(t, l.RecordReferences(ctx, complete, 4, nil))

	res, err := run(t, p)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 1, res.Downloaded)
	assert.Equal(t, int64(1), a.fetches.Load(), "only the fresh paper is fetched")
	assert.Equal(t, map[string]int{"2304.00002": 1, "2304.00003": 1}, r.calls())

	totals, err := l.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, totals.Papers)
	assert.Equal(t, 3, totals.ReferencesSaved)
}

func TestResultSummary(t *testing.T) {
	var buf bytes.Buffer
	Result{Resolved: 5, Downloaded: 3, Skipped: 1, Failed: 1, ProbeFailures: 2}.Summary(&buf)
	assert.Contains(t, buf.String(), "Batch summary: 3 downloaded, 1 skipped, 1 failed (total: 5 of 5 resolved)")
	assert.Contains(t, buf.String(), "2 existence probes failed")
}
