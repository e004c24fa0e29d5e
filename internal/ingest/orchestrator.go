// Package ingest drives a full ingestion run: scan linked profiles, fetch
// brand posts from global search, attribute them to owners, and persist.
package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/Sendo-labs/leaderboard/internal/provider/xapi"
	"github.com/Sendo-labs/leaderboard/internal/scanner"
	"github.com/Sendo-labs/leaderboard/internal/store"
	"github.com/Sendo-labs/leaderboard/pkg/logging"
)

// Metrics holds the pipeline's Prometheus instruments. All fields are
// optional; a nil Metrics disables observation entirely.
type Metrics struct {
	Runs         *prometheus.CounterVec   // labeled by status
	Posts        *prometheus.CounterVec   // labeled by outcome
	Duration     *prometheus.HistogramVec // labeled by trigger
	ScanProfiles *prometheus.CounterVec   // labeled by outcome
	LinkedGauge  *prometheus.GaugeVec     // labeled by platform
}

// Stage names the phases of an ingestion run, in order
type Stage string

const (
	StageInit        Stage = "INIT"
	StageScanning    Stage = "SCANNING"
	StageMapping     Stage = "MAPPING"
	StageSearching   Stage = "SEARCHING"
	StageAttributing Stage = "ATTRIBUTING"
	StagePersisting  Stage = "PERSISTING"
	StageDone        Stage = "DONE"
	StageFailed      Stage = "FAILED"
)

// StageError wraps a failure with the stage it occurred in, so run records
// and logs can say where a run died
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// RunStore is the persistence surface an ingestion run needs
type RunStore interface {
	ListOwnerIdentities(ctx context.Context) ([]string, error)
	UpsertLinkedAccount(ctx context.Context, account scanner.LinkedAccount) error
	UpsertActivity(ctx context.Context, activity store.Activity) error
	InsertIngestionRun(ctx context.Context, run store.IngestionRun) error
}

// ProfileScanner scans owner profiles for verified account links
type ProfileScanner interface {
	Scan(ctx context.Context, identities []string, opts scanner.Options) (*scanner.Result, error)
}

// SearchClient pages through global search results
type SearchClient interface {
	Search(ctx context.Context, query, cursor string) (*xapi.SearchPage, error)
}

// Config holds the knobs of one ingestion run
type Config struct {
	// TrackedHandle is the brand account the search query is built around
	TrackedHandle string
	// BrandTags are hashtags that mark a post as brand-related
	BrandTags []string
	// ExcludeReplies drops replies at the query level
	ExcludeReplies bool
	// MaxPages bounds search pagination (default 5)
	MaxPages int
	// PageDelay is the pause between search pages (default 1s)
	PageDelay time.Duration
	// WindowStart / WindowEnd bound post creation time; nil means open
	WindowStart *time.Time
	WindowEnd   *time.Time
	// Scan configures the profile scan pass
	Scan scanner.Options
}

func (c Config) normalized() Config {
	if c.MaxPages <= 0 {
		c.MaxPages = 5
	}
	if c.PageDelay <= 0 {
		c.PageDelay = time.Second
	}
	return c
}

// Result summarizes a finished run
type Result struct {
	RunID               string    `json:"run_id"`
	Stage               Stage     `json:"stage"`
	Stored              int       `json:"stored"`
	Skipped             int       `json:"skipped"`
	TotalLinkedAccounts int       `json:"total_linked_accounts"`
	TotalPostsFetched   int       `json:"total_posts_fetched"`
	StartedAt           time.Time `json:"started_at"`
	FinishedAt          time.Time `json:"finished_at"`
}

// Orchestrator runs the ingestion pipeline end to end
type Orchestrator struct {
	store   RunStore
	scanner ProfileScanner
	search  SearchClient
	cfg     Config
	logger  logging.Logger
	metrics *Metrics
}

// New creates an orchestrator. Metrics may be nil.
func New(runStore RunStore, profileScanner ProfileScanner, search SearchClient, cfg Config, logger logging.Logger, metrics *Metrics) *Orchestrator {
	return &Orchestrator{
		store:   runStore,
		scanner: profileScanner,
		search:  search,
		cfg:     cfg.normalized(),
		logger:  logger,
		metrics: metrics,
	}
}

// Run executes one full ingestion pass. The returned result is valid even
// on error; its Stage tells how far the run got. Every run, successful or
// not, leaves a bookkeeping record.
func (o *Orchestrator) Run(ctx context.Context, triggeredBy string) (*Result, error) {
	result := &Result{
		RunID:     uuid.New().String(),
		Stage:     StageInit,
		StartedAt: time.Now().UTC(),
	}
	logger := o.logger.WithFields(logging.Fields{
		"run_id":  result.RunID,
		"trigger": triggeredBy,
	})
	logger.Info("Starting ingestion run")

	err := o.run(ctx, result, logger)

	result.FinishedAt = time.Now().UTC()
	if err != nil {
		result.Stage = StageFailed
		logger.WithError(err).Error("Ingestion run failed")
	} else {
		result.Stage = StageDone
		logger.WithFields(logging.Fields{
			"stored":          result.Stored,
			"skipped":         result.Skipped,
			"linked_accounts": result.TotalLinkedAccounts,
			"posts_fetched":   result.TotalPostsFetched,
			"duration":        result.FinishedAt.Sub(result.StartedAt).String(),
		}).Info("Ingestion run complete")
	}

	o.observe(result, triggeredBy, err)
	o.record(result, triggeredBy, err)
	return result, err
}

func (o *Orchestrator) run(ctx context.Context, result *Result, logger *logrus.Entry) error {
	identities, err := o.store.ListOwnerIdentities(ctx)
	if err != nil {
		return &StageError{Stage: StageInit, Err: err}
	}

	result.Stage = StageScanning
	scan, err := o.scanner.Scan(ctx, identities, o.cfg.Scan)
	if err != nil {
		return &StageError{Stage: StageScanning, Err: err}
	}
	result.TotalLinkedAccounts = len(scan.Linked)
	o.observeScan(scan)
	if len(scan.Linked) == 0 {
		// nothing to attribute to; a successful no-op run
		logger.Info("No linked accounts found, skipping search")
		return nil
	}

	result.Stage = StageMapping
	for _, account := range scan.Linked {
		if err := o.store.UpsertLinkedAccount(ctx, account); err != nil {
			return &StageError{Stage: StageMapping, Err: err}
		}
	}
	index := scanner.BuildIDIndex(scan.Linked)

	result.Stage = StageSearching
	posts, err := o.fetchPosts(ctx, result, logger)
	if err != nil {
		return &StageError{Stage: StageSearching, Err: err}
	}

	result.Stage = StageAttributing
	attributed := make(map[string][]xapi.Post, len(index))
	for _, post := range posts {
		owner, ok := index[post.AuthorID]
		if !ok || !o.inWindow(post.CreatedAt) {
			result.Skipped++
			continue
		}
		attributed[owner] = append(attributed[owner], post)
	}

	result.Stage = StagePersisting
	for owner, ownerPosts := range attributed {
		for _, post := range ownerPosts {
			activity := ToActivity(post, owner, o.cfg.TrackedHandle, o.cfg.BrandTags)
			if err := o.store.UpsertActivity(ctx, activity); err != nil {
				return &StageError{Stage: StagePersisting, Err: err}
			}
			result.Stored++
		}
	}
	return nil
}

func (o *Orchestrator) fetchPosts(ctx context.Context, result *Result, logger *logrus.Entry) ([]xapi.Post, error) {
	query := xapi.BuildTrackedQuery(o.cfg.TrackedHandle, o.cfg.ExcludeReplies)

	var posts []xapi.Post
	cursor := ""
	for page := 1; page <= o.cfg.MaxPages; page++ {
		searchPage, err := o.search.Search(ctx, query, cursor)
		if err != nil {
			return nil, fmt.Errorf("search page %d: %w", page, err)
		}
		for _, raw := range searchPage.Posts {
			posts = append(posts, xapi.Normalize(raw))
		}
		result.TotalPostsFetched += len(searchPage.Posts)
		logger.WithFields(logging.Fields{
			"page":  page,
			"posts": len(searchPage.Posts),
		}).Debug("Fetched search page")

		if !searchPage.HasMore || searchPage.NextCursor == "" {
			break
		}
		cursor = searchPage.NextCursor

		if page < o.cfg.MaxPages {
			select {
			case <-time.After(o.cfg.PageDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return posts, nil
}

func (o *Orchestrator) inWindow(createdAt time.Time) bool {
	if o.cfg.WindowStart != nil && createdAt.Before(*o.cfg.WindowStart) {
		return false
	}
	if o.cfg.WindowEnd != nil && createdAt.After(*o.cfg.WindowEnd) {
		return false
	}
	return true
}

func (o *Orchestrator) observeScan(scan *scanner.Result) {
	if o.metrics == nil {
		return
	}
	if o.metrics.ScanProfiles != nil {
		o.metrics.ScanProfiles.WithLabelValues("scanned").Add(float64(scan.Scanned - scan.Failed))
		o.metrics.ScanProfiles.WithLabelValues("failed").Add(float64(scan.Failed))
	}
	if o.metrics.LinkedGauge != nil {
		o.metrics.LinkedGauge.WithLabelValues(scanner.PlatformX).Set(float64(len(scan.Linked)))
	}
}

func (o *Orchestrator) observe(result *Result, triggeredBy string, err error) {
	if o.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failed"
	}
	if o.metrics.Runs != nil {
		o.metrics.Runs.WithLabelValues(status).Inc()
	}
	if o.metrics.Posts != nil {
		o.metrics.Posts.WithLabelValues("stored").Add(float64(result.Stored))
		o.metrics.Posts.WithLabelValues("skipped").Add(float64(result.Skipped))
	}
	if o.metrics.Duration != nil {
		o.metrics.Duration.WithLabelValues(triggeredBy).Observe(result.FinishedAt.Sub(result.StartedAt).Seconds())
	}
}

// record writes the bookkeeping row on a background context so a
// cancelled run still gets recorded
func (o *Orchestrator) record(result *Result, triggeredBy string, runErr error) {
	run := store.IngestionRun{
		RunID:          result.RunID,
		TriggeredBy:    triggeredBy,
		Stage:          string(result.Stage),
		Stored:         result.Stored,
		Skipped:        result.Skipped,
		LinkedAccounts: result.TotalLinkedAccounts,
		PostsFetched:   result.TotalPostsFetched,
		StartedAt:      result.StartedAt,
		FinishedAt:     result.FinishedAt,
	}
	if runErr != nil {
		run.Error = sql.NullString{String: runErr.Error(), Valid: true}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.store.InsertIngestionRun(ctx, run); err != nil {
		o.logger.WithError(err).WithField("run_id", result.RunID).Error("Failed to record ingestion run")
	}
}
