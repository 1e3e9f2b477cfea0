package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/imMewtable/wakatime-bot/internal/auth/wakatime"
	"github.com/imMewtable/wakatime-bot/internal/db/models"
	"github.com/imMewtable/wakatime-bot/internal/logging"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency caps parallel refresh calls per server.
const DefaultConcurrency = 16

// CredentialStore is the persistence the manager reads and rotates through.
type CredentialStore interface {
	ListServerUsers(ctx context.Context, serverID int64) ([]models.UserCredential, error)
	GetRefreshToken(ctx context.Context, userID string, serverID int64) (string, error)
	RotateTokens(ctx context.Context, userID string, serverID int64, oldRefreshToken, newAccessToken, newRefreshToken string) error
	ListServers(ctx context.Context) ([]int64, error)
}

// Refresher performs the refresh_token grant for one token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (wakatime.Tokens, error)
}

// Manager handles the token lifecycle: single and bulk refresh with
// compare-and-rotate write-back.
type Manager struct {
	store       CredentialStore
	refresher   Refresher
	concurrency int
}

// NewManager creates a token manager. concurrency <= 0 uses DefaultConcurrency.
func NewManager(store CredentialStore, refresher Refresher, concurrency int) *Manager {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Manager{store: store, refresher: refresher, concurrency: concurrency}
}

// Outcome classifies one user's refresh.
type Outcome string

const (
	OutcomeRefreshed Outcome = "refreshed"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// Result is the refresh outcome of one credential row.
type Result struct {
	UserID  string  `json:"user_id"`
	Outcome Outcome `json:"outcome"`
	Err     error   `json:"-"`
	Reason  string  `json:"reason,omitempty"`
}

// Summary reports a bulk refresh of one server.
type Summary struct {
	ServerID  int64    `json:"server_id"`
	Refreshed int      `json:"refreshed"`
	Rejected  int      `json:"rejected"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped"`
	Results   []Result `json:"results"`
}

// Failures counts every user whose tokens were not rotated, excluding skipped rows.
func (s *Summary) Failures() int {
	return s.Rejected + s.Failed
}

func (s *Summary) add(r Result) {
	if r.Err != nil {
		r.Reason = r.Err.Error()
	}
	switch r.Outcome {
	case OutcomeRefreshed:
		s.Refreshed++
	case OutcomeRejected:
		s.Rejected++
	case OutcomeFailed:
		s.Failed++
	case OutcomeSkipped:
		s.Skipped++
	}
	s.Results = append(s.Results, r)
}

// RefreshUser rotates the token pair of a single user. Errors propagate to the
// caller: db.ErrNotFound when the user never authorized, *wakatime.AuthError
// when the token endpoint refused, db.ErrTokenRotated when a concurrent
// refresh stored a newer pair first.
func (m *Manager) RefreshUser(ctx context.Context, userID string, serverID int64) error {
	old, err := m.store.GetRefreshToken(ctx, userID, serverID)
	if err != nil {
		return err
	}
	tokens, err := m.refresher.Refresh(ctx, old)
	if err != nil {
		return fmt.Errorf("refresh %s/%d: %w", userID, serverID, err)
	}
	if err := m.store.RotateTokens(ctx, userID, serverID, old, tokens.AccessToken, tokens.RefreshToken); err != nil {
		return err
	}
	logging.Ctx(ctx).Debug().
		Str("user_id", userID).
		Int64("server_id", serverID).
		Str("refresh_token", logging.MaskToken(tokens.RefreshToken)).
		Msg("✅ Refreshed token")
	return nil
}

type refreshed struct {
	old    string
	tokens wakatime.Tokens
	err    error
}

// RefreshAll refreshes every registered user of serverID concurrently. Rows
// without a refresh token are skipped. Individual failures are recorded in the
// summary and never stop sibling refreshes; the returned error only reports a
// failed snapshot of the user list.
//
// Rotations are written after all calls return, each keyed by the refresh
// token that was sent, so a row rotated concurrently elsewhere is left alone.
func (m *Manager) RefreshAll(ctx context.Context, serverID int64) (*Summary, error) {
	creds, err := m.store.ListServerUsers(ctx, serverID)
	if err != nil {
		return nil, err
	}

	summary := &Summary{ServerID: serverID}
	var eligible []models.UserCredential
	for _, c := range creds {
		if !c.Refreshable() {
			summary.add(Result{UserID: c.UserID, Outcome: OutcomeSkipped})
			continue
		}
		eligible = append(eligible, c)
	}

	results := make([]refreshed, len(eligible))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, c := range eligible {
		old := c.RefreshTokenValue()
		results[i].old = old
		g.Go(func() error {
			results[i].tokens, results[i].err = m.refresher.Refresh(gctx, old)
			return nil
		})
	}
	_ = g.Wait()

	for i, c := range eligible {
		r := results[i]
		if r.err != nil {
			summary.add(Result{UserID: c.UserID, Outcome: classify(r.err), Err: r.err})
			continue
		}
		err := m.store.RotateTokens(ctx, c.UserID, serverID, r.old, r.tokens.AccessToken, r.tokens.RefreshToken)
		if err != nil {
			summary.add(Result{UserID: c.UserID, Outcome: OutcomeFailed, Err: err})
			continue
		}
		summary.add(Result{UserID: c.UserID, Outcome: OutcomeRefreshed})
	}

	lg := logging.Ctx(ctx)
	for _, r := range summary.Results {
		switch r.Outcome {
		case OutcomeRejected:
			lg.Warn().Str("user_id", r.UserID).Int64("server_id", serverID).Err(r.Err).Msg("🔒 Refresh token rejected, user must register again")
		case OutcomeFailed:
			lg.Warn().Str("user_id", r.UserID).Int64("server_id", serverID).Err(r.Err).Msg("⏳ Transient refresh failure")
		}
	}
	lg.Info().
		Int64("server_id", serverID).
		Int("refreshed", summary.Refreshed).
		Int("rejected", summary.Rejected).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Msg("🔄 Server tokens refreshed")
	return summary, nil
}

func classify(err error) Outcome {
	var authErr *wakatime.AuthError
	if errors.As(err, &authErr) && authErr.Permanent() {
		return OutcomeRejected
	}
	return OutcomeFailed
}

// RefreshEverything runs RefreshAll for every server that has credentials.
func (m *Manager) RefreshEverything(ctx context.Context) {
	servers, err := m.store.ListServers(ctx)
	if err != nil {
		log.Error().Err(err).Msg("⚠️ Failed to list servers for token refresh")
		return
	}
	for _, id := range servers {
		if ctx.Err() != nil {
			return
		}
		if _, err := m.RefreshAll(ctx, id); err != nil {
			log.Error().Err(err).Int64("server_id", id).Msg("⚠️ Token refresh failed")
		}
	}
}

// StartRefreshLoop refreshes all tokens every interval until ctx is done.
// A non-positive interval disables the loop.
func (m *Manager) StartRefreshLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		log.Info().Msg("⏸️ Background token refresh disabled")
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.RefreshEverything(logging.WithRequestID(ctx, logging.GenerateRequestID()))
			}
		}
	}()
	log.Info().Dur("interval", interval).Msg("🔄 Token refresh loop started")
}
