package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/imMewtable/wakatime-bot/internal/db/models"
	"github.com/imMewtable/wakatime-bot/internal/logging"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency caps in-flight stats calls of one batch.
const DefaultConcurrency = 16

// CredentialLister is the part of the credential store a batch needs.
type CredentialLister interface {
	ListAuthenticatedUsers(ctx context.Context, serverID int64) ([]models.UserCredential, error)
}

// Fetcher fetches one user's stats.
type Fetcher interface {
	Fetch(ctx context.Context, accessToken string, r TimeRange) (*Payload, error)
}

// UserResult pairs a credential snapshot with its fetch outcome. Exactly one
// of Payload and Err is set.
type UserResult struct {
	Credential models.UserCredential
	Payload    *Payload
	Err        error
}

// BatchFetcher gathers the stats of every authenticated user of a server
// concurrently. Callers that need fresh tokens run the token manager's
// RefreshAll for the same server first.
type BatchFetcher struct {
	store       CredentialLister
	fetcher     Fetcher
	concurrency int
}

// NewBatchFetcher creates a batch fetcher running at most concurrency calls at once.
func NewBatchFetcher(store CredentialLister, fetcher Fetcher, concurrency int) *BatchFetcher {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	return &BatchFetcher{store: store, fetcher: fetcher, concurrency: concurrency}
}

// FetchAll returns one result per authenticated user of serverID, in snapshot
// order. A failing user only fails its own entry; the error return is
// reserved for the snapshot itself.
func (b *BatchFetcher) FetchAll(ctx context.Context, serverID int64, r TimeRange) ([]UserResult, error) {
	creds, err := b.store.ListAuthenticatedUsers(ctx, serverID)
	if err != nil {
		return nil, fmt.Errorf("snapshot users of %d: %w", serverID, err)
	}

	start := time.Now()
	results := make([]UserResult, len(creds))
	var g errgroup.Group
	g.SetLimit(b.concurrency)
	for i, cred := range creds {
		results[i].Credential = cred
		g.Go(func() error {
			payload, err := b.fetcher.Fetch(ctx, cred.AccessTokenValue(), r)
			results[i].Payload, results[i].Err = payload, err
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			logging.Ctx(ctx).Warn().Err(res.Err).
				Str("user_id", res.Credential.UserID).
				Int64("server_id", serverID).
				Msg("⚠️ Stats fetch failed")
		}
	}
	logging.Ctx(ctx).Info().
		Int64("server_id", serverID).
		Str("range", string(r)).
		Int("users", len(creds)).
		Int("failed", failed).
		Dur("took", time.Since(start)).
		Msg("📊 Fetched server stats")
	return results, nil
}
