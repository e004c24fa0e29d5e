// Package scanner discovers linked X accounts by sweeping contributor
// profile READMEs for verified linking claims.
package scanner

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Sendo-labs/leaderboard/internal/linkproof"
	"github.com/Sendo-labs/leaderboard/internal/provider/github"
	"github.com/Sendo-labs/leaderboard/pkg/logging"
)

// PlatformX is the only social platform this system links today. The
// LinkedAccount shape is platform-tagged so others can reuse it.
const PlatformX = "x"

const (
	defaultBatchSize  = 10
	defaultBatchPause = 2 * time.Second
)

// ProfileSource fetches the profile text for an identity. Absence must be
// reported as github.ErrNotFound, distinguishable from transient failures.
type ProfileSource interface {
	FetchProfileReadme(ctx context.Context, username string) (string, error)
}

// LinkedAccount is a verified link between an owner identity and an X
// account. One link per owner per platform.
type LinkedAccount struct {
	OwnerIdentity  string
	Platform       string
	PlatformUserID string
	PlatformHandle string
	LinkedAt       time.Time
	LinkingProof   string
	LastObservedAt time.Time
}

// ScanError records an identity whose profile fetch failed unrecoverably
type ScanError struct {
	Identity string
	Err      error
}

// Result summarizes a completed scan. Scanned counts every processed
// identity, including failures and profiles with no claim.
type Result struct {
	Linked  []LinkedAccount
	Scanned int
	Failed  int
	Errors  []ScanError
}

// Progress is emitted after every processed identity
type Progress struct {
	Processed int
	Total     int
}

// Options configures a scan
type Options struct {
	// BatchSize bounds concurrent profile fetches; never fewer than 1
	BatchSize int
	// BatchPause is the fixed delay between batches, respecting the
	// upstream rate limit
	BatchPause time.Duration
	// Progress optionally receives progress events. Sends never block
	// the scan loop; events are dropped if the receiver lags.
	Progress chan<- Progress
}

func (o Options) normalized() Options {
	if o.BatchSize < 1 {
		o.BatchSize = defaultBatchSize
	}
	if o.BatchPause <= 0 {
		o.BatchPause = defaultBatchPause
	}
	return o
}

// Scanner sweeps identities for verified linking claims
type Scanner struct {
	profiles ProfileSource
	verifier *linkproof.Verifier
	logger   logging.Logger
}

// New creates a scanner
func New(profiles ProfileSource, verifier *linkproof.Verifier, logger logging.Logger) *Scanner {
	return &Scanner{
		profiles: profiles,
		verifier: verifier,
		logger:   logger,
	}
}

// Scan processes identities in fixed-size batches. Within a batch all
// fetches run concurrently; a pause separates batches. One identity's
// unrecoverable error is recorded and never aborts the rest. The scan
// stops early only on context cancellation, returning partial results
// alongside the context error.
func (s *Scanner) Scan(ctx context.Context, identities []string, opts Options) (*Result, error) {
	opts = opts.normalized()

	result := &Result{}
	var mu sync.Mutex
	total := len(identities)
	processed := 0

	for start := 0; start < len(identities); start += opts.BatchSize {
		if start > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(opts.BatchPause):
			}
		}

		end := start + opts.BatchSize
		if end > len(identities) {
			end = len(identities)
		}
		batch := identities[start:end]

		g, gctx := errgroup.WithContext(ctx)
		for _, identity := range batch {
			identity := identity
			g.Go(func() error {
				if gctx.Err() != nil {
					return gctx.Err()
				}

				linked, scanErr := s.scanOne(gctx, identity)

				mu.Lock()
				result.Scanned++
				if scanErr != nil {
					result.Failed++
					result.Errors = append(result.Errors, ScanError{Identity: identity, Err: scanErr})
				} else if linked != nil {
					result.Linked = append(result.Linked, *linked)
				}
				processed++
				current := processed
				mu.Unlock()

				emitProgress(opts.Progress, Progress{Processed: current, Total: total})
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return result, err
		}
	}

	return result, nil
}

// scanOne fetches and evaluates a single profile. A nil, nil return means
// the identity contributes no link: missing profile, no claim, malformed
// claim, or failed verification are all normal outcomes.
func (s *Scanner) scanOne(ctx context.Context, identity string) (*LinkedAccount, error) {
	text, err := s.profiles.FetchProfileReadme(ctx, identity)
	if err != nil {
		if errors.Is(err, github.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	claim, err := linkproof.Extract(text)
	if err != nil {
		if !errors.Is(err, linkproof.ErrNoBlock) {
			s.logger.WithError(err).WithField("identity", identity).Warn("Discarding malformed linking block")
		}
		return nil, nil
	}

	if !s.verifier.Verify(identity, claim.XUserID, claim.XUsername, claim.LinkingProof) {
		s.logger.WithFields(logging.Fields{
			"identity": identity,
			"x_handle": claim.XUsername,
		}).Warn("Linking proof failed verification")
		return nil, nil
	}

	return &LinkedAccount{
		OwnerIdentity:  identity,
		Platform:       PlatformX,
		PlatformUserID: claim.XUserID,
		PlatformHandle: claim.XUsername,
		LinkedAt:       claim.LinkedAt,
		LinkingProof:   claim.LinkingProof,
		LastObservedAt: time.Now().UTC(),
	}, nil
}

func emitProgress(ch chan<- Progress, p Progress) {
	if ch == nil {
		return
	}
	select {
	case ch <- p:
	default:
	}
}

// BuildIDIndex maps platform user ids to owner identities. Duplicate
// platform ids are a data anomaly; last write wins and the caller may log
// them, but the index never errors.
func BuildIDIndex(linked []LinkedAccount) map[string]string {
	index := make(map[string]string, len(linked))
	for _, account := range linked {
		index[account.PlatformUserID] = account.OwnerIdentity
	}
	return index
}
