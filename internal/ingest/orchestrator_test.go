package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Sendo-labs/leaderboard/internal/provider/xapi"
	"github.com/Sendo-labs/leaderboard/internal/scanner"
	"github.com/Sendo-labs/leaderboard/internal/store"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

type fakeRunStore struct {
	mu          sync.Mutex
	identities  []string
	listErr     error
	linkErr     error
	activityErr error

	links      []scanner.LinkedAccount
	activities map[string]store.Activity
	runs       []store.IngestionRun
}

func newFakeRunStore(identities ...string) *fakeRunStore {
	return &fakeRunStore{
		identities: identities,
		activities: make(map[string]store.Activity),
	}
}

func (f *fakeRunStore) ListOwnerIdentities(ctx context.Context) ([]string, error) {
	return f.identities, f.listErr
}

func (f *fakeRunStore) UpsertLinkedAccount(ctx context.Context, account scanner.LinkedAccount) error {
	if f.linkErr != nil {
		return f.linkErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links = append(f.links, account)
	return nil
}

func (f *fakeRunStore) UpsertActivity(ctx context.Context, activity store.Activity) error {
	if f.activityErr != nil {
		return f.activityErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activities[activity.ID] = activity
	return nil
}

func (f *fakeRunStore) InsertIngestionRun(ctx context.Context, run store.IngestionRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	return nil
}

type fakeScanner struct {
	result  *scanner.Result
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakeScanner) Scan(ctx context.Context, identities []string, opts scanner.Options) (*scanner.Result, error) {
	if f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		<-f.release
	}
	return f.result, f.err
}

type fakeSearch struct {
	mu      sync.Mutex
	pages   []*xapi.SearchPage
	err     error
	calls   int
	cursors []string
}

func (f *fakeSearch) Search(ctx context.Context, query, cursor string) (*xapi.SearchPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors = append(f.cursors, cursor)
	call := f.calls
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if call >= len(f.pages) {
		return &xapi.SearchPage{}, nil
	}
	return f.pages[call], nil
}

func linkedOctocat() *scanner.Result {
	return &scanner.Result{
		Linked: []scanner.LinkedAccount{{
			OwnerIdentity:  "octocat",
			Platform:       scanner.PlatformX,
			PlatformUserID: "42",
			PlatformHandle: "octo_x",
		}},
		Scanned: 1,
	}
}

func flatPost(id, authorID string) xapi.RawPost {
	return xapi.RawPost{
		ID:             id,
		Text:           "gm @sendo",
		AuthorID:       authorID,
		AuthorUsername: "octo_x",
		CreatedAt:      "2026-03-05T10:00:00Z",
	}
}

func testConfig() Config {
	return Config{
		TrackedHandle: "sendo",
		MaxPages:      5,
		PageDelay:     time.Millisecond,
	}
}

func TestRunHappyPath(t *testing.T) {
	runStore := newFakeRunStore("octocat")
	search := &fakeSearch{pages: []*xapi.SearchPage{
		{
			Posts:      []xapi.RawPost{flatPost("1", "42"), flatPost("2", "9999")},
			NextCursor: "c2",
			HasMore:    true,
		},
		{
			Posts: []xapi.RawPost{flatPost("3", "42")},
		},
	}}

	o := New(runStore, &fakeScanner{result: linkedOctocat()}, search, testConfig(), quietLogger(), nil)
	result, err := o.Run(context.Background(), "test")
	require.NoError(t, err)

	require.Equal(t, StageDone, result.Stage)
	require.Equal(t, 2, result.Stored)
	require.Equal(t, 1, result.Skipped)
	require.Equal(t, 1, result.TotalLinkedAccounts)
	require.Equal(t, 3, result.TotalPostsFetched)

	require.Len(t, runStore.links, 1)
	require.Equal(t, "octocat", runStore.links[0].OwnerIdentity)
	require.Contains(t, runStore.activities, "1")
	require.Contains(t, runStore.activities, "3")
	require.Equal(t, "octocat", runStore.activities["1"].OwnerIdentity)

	require.Equal(t, []string{"", "c2"}, search.cursors)

	require.Len(t, runStore.runs, 1)
	require.Equal(t, string(StageDone), runStore.runs[0].Stage)
	require.False(t, runStore.runs[0].Error.Valid)
}

func TestRunNoLinkedAccounts(t *testing.T) {
	runStore := newFakeRunStore("octocat")
	search := &fakeSearch{}

	o := New(runStore, &fakeScanner{result: &scanner.Result{Scanned: 1}}, search, testConfig(), quietLogger(), nil)
	result, err := o.Run(context.Background(), "test")
	require.NoError(t, err)

	require.Equal(t, StageDone, result.Stage)
	require.Zero(t, result.Stored)
	require.Zero(t, search.calls)
	require.Len(t, runStore.runs, 1)
}

func TestRunSearchFailure(t *testing.T) {
	runStore := newFakeRunStore("octocat")
	search := &fakeSearch{err: errors.New("upstream down")}

	o := New(runStore, &fakeScanner{result: linkedOctocat()}, search, testConfig(), quietLogger(), nil)
	result, err := o.Run(context.Background(), "test")
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, StageSearching, stageErr.Stage)

	require.Equal(t, StageFailed, result.Stage)
	require.Len(t, runStore.runs, 1)
	require.Equal(t, string(StageFailed), runStore.runs[0].Stage)
	require.True(t, runStore.runs[0].Error.Valid)
}

func TestRunPageCap(t *testing.T) {
	runStore := newFakeRunStore("octocat")
	// every page claims more data; the cap must stop pagination
	endless := &xapi.SearchPage{
		Posts:      []xapi.RawPost{flatPost("1", "42")},
		NextCursor: "next",
		HasMore:    true,
	}
	search := &fakeSearch{pages: []*xapi.SearchPage{endless, endless, endless, endless}}

	cfg := testConfig()
	cfg.MaxPages = 2
	o := New(runStore, &fakeScanner{result: linkedOctocat()}, search, cfg, quietLogger(), nil)
	result, err := o.Run(context.Background(), "test")
	require.NoError(t, err)

	require.Equal(t, 2, search.calls)
	require.Equal(t, 2, result.TotalPostsFetched)
}

func TestRunWindowFilter(t *testing.T) {
	runStore := newFakeRunStore("octocat")
	stale := flatPost("old", "42")
	stale.CreatedAt = "2020-01-01T00:00:00Z"
	search := &fakeSearch{pages: []*xapi.SearchPage{
		{Posts: []xapi.RawPost{flatPost("1", "42"), stale}},
	}}

	cfg := testConfig()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	cfg.WindowStart = &start
	o := New(runStore, &fakeScanner{result: linkedOctocat()}, search, cfg, quietLogger(), nil)
	result, err := o.Run(context.Background(), "test")
	require.NoError(t, err)

	require.Equal(t, 1, result.Stored)
	require.Equal(t, 1, result.Skipped)
	require.NotContains(t, runStore.activities, "old")
}

func TestRunLinkUpsertFailure(t *testing.T) {
	runStore := newFakeRunStore("octocat")
	runStore.linkErr = errors.New("db down")
	search := &fakeSearch{}

	o := New(runStore, &fakeScanner{result: linkedOctocat()}, search, testConfig(), quietLogger(), nil)
	result, err := o.Run(context.Background(), "test")
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, StageMapping, stageErr.Stage)

	require.Equal(t, StageFailed, result.Stage)
	require.Zero(t, search.calls)
}

func TestRunObservesScanMetrics(t *testing.T) {
	runStore := newFakeRunStore("octocat")
	search := &fakeSearch{pages: []*xapi.SearchPage{
		{Posts: []xapi.RawPost{flatPost("1", "42")}},
	}}

	metrics := &Metrics{
		ScanProfiles: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "scan_profiles_total"}, []string{"outcome"}),
		LinkedGauge:  prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "linked_accounts"}, []string{"platform"}),
	}

	scan := linkedOctocat()
	scan.Scanned = 3
	scan.Failed = 1
	o := New(runStore, &fakeScanner{result: scan}, search, testConfig(), quietLogger(), metrics)
	_, err := o.Run(context.Background(), "test")
	require.NoError(t, err)

	require.Equal(t, 2.0, testutil.ToFloat64(metrics.ScanProfiles.WithLabelValues("scanned")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.ScanProfiles.WithLabelValues("failed")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.LinkedGauge.WithLabelValues(scanner.PlatformX)))
}

func TestRunScanFailure(t *testing.T) {
	runStore := newFakeRunStore("octocat")

	o := New(runStore, &fakeScanner{err: errors.New("profiles unavailable")}, &fakeSearch{}, testConfig(), quietLogger(), nil)
	_, err := o.Run(context.Background(), "test")
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, StageScanning, stageErr.Stage)
}

func TestWorkerSkipsOverlappingRuns(t *testing.T) {
	runStore := newFakeRunStore("octocat")
	blocking := &fakeScanner{
		result:  &scanner.Result{},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}

	o := New(runStore, blocking, &fakeSearch{}, testConfig(), quietLogger(), nil)
	w := NewWorker(o, time.Hour, quietLogger())

	done := make(chan bool, 1)
	go func() {
		done <- w.TriggerRun(context.Background(), "manual")
	}()

	<-blocking.started
	require.True(t, w.Running())
	require.False(t, w.TriggerRun(context.Background(), "manual"))

	close(blocking.release)
	require.True(t, <-done)
	require.False(t, w.Running())
}
