package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/imMewtable/wakatime-bot/internal/auth/token"
	"github.com/imMewtable/wakatime-bot/internal/auth/wakatime"
	"github.com/imMewtable/wakatime-bot/internal/db"
	"github.com/imMewtable/wakatime-bot/internal/db/models"
	"github.com/imMewtable/wakatime-bot/internal/leaderboard"
	"github.com/imMewtable/wakatime-bot/internal/logging"
	"github.com/imMewtable/wakatime-bot/internal/stats"
	"gorm.io/gorm"
)

// ErrNoData means the stats API answered but held nothing to show.
var ErrNoData = errors.New("no stats data")

// Directory resolves chat-platform names.
type Directory interface {
	DisplayName(ctx context.Context, serverID int64, userID string) (string, error)
	ServerName(ctx context.Context, serverID int64) (string, error)
}

// Authorizer is the OAuth side of the provider.
type Authorizer interface {
	AuthorizeURL(state string) string
	Exchange(ctx context.Context, code string) (wakatime.Tokens, error)
	Refresh(ctx context.Context, refreshToken string) (wakatime.Tokens, error)
}

// StatsAPI is the stats side of the provider.
type StatsAPI interface {
	Fetch(ctx context.Context, accessToken string, r stats.TimeRange) (*stats.Payload, error)
	CurrentUser(ctx context.Context, accessToken string) (*stats.User, error)
}

// Service implements the operations exposed to the chat platform and the
// HTTP API. It composes the token manager, the batch fetcher and the
// leaderboard renderer; callers never refresh or fetch on their own.
type Service struct {
	db       *gorm.DB
	creds    *db.CredentialStore
	states   *db.StateStore
	auth     Authorizer
	stats    StatsAPI
	tokens   *token.Manager
	batch    *stats.BatchFetcher
	dir      Directory
	stateTTL time.Duration
	now      func() time.Time
}

// Deps groups what NewService needs.
type Deps struct {
	DB                 *gorm.DB
	Auth               Authorizer
	Stats              StatsAPI
	Directory          Directory
	StateTTL           time.Duration
	RefreshConcurrency int
	FetchConcurrency   int
}

// NewService wires the stores and workers around one database handle.
func NewService(d Deps) *Service {
	creds := db.NewCredentialStore(d.DB)
	s := &Service{
		db:       d.DB,
		creds:    creds,
		states:   db.NewStateStore(d.DB),
		auth:     d.Auth,
		stats:    d.Stats,
		tokens:   token.NewManager(creds, d.Auth, d.RefreshConcurrency),
		batch:    stats.NewBatchFetcher(creds, d.Stats, d.FetchConcurrency),
		dir:      d.Directory,
		stateTTL: d.StateTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if s.dir == nil {
		s.dir = storedNames{creds: creds}
	}
	if s.stateTTL <= 0 {
		s.stateTTL = 15 * time.Minute
	}
	return s
}

// SetDirectory replaces the name resolver, e.g. once the chat session is up.
func (s *Service) SetDirectory(d Directory) {
	s.dir = d
}

// Tokens exposes the token manager for background refresh.
func (s *Service) Tokens() *token.Manager {
	return s.tokens
}

// BeginRegistration creates the credential row and returns a fresh authorize
// URL. A user who registered but never finished authorization gets a new
// link; an authorized user gets db.ErrConflict.
func (s *Service) BeginRegistration(ctx context.Context, userID string, serverID int64) (string, error) {
	if _, err := s.creds.InitializeUser(ctx, userID, serverID); err != nil {
		if !errors.Is(err, db.ErrConflict) {
			return "", err
		}
		cred, getErr := s.creds.Get(ctx, userID, serverID)
		if getErr != nil {
			return "", getErr
		}
		if cred.Authenticated() {
			return "", err
		}
	}

	state, err := wakatime.NewState()
	if err != nil {
		return "", err
	}
	now := s.now()
	if err := s.states.Save(ctx, userID, serverID, state, now, now.Add(s.stateTTL)); err != nil {
		return "", err
	}
	logging.Ctx(ctx).Info().Str("user_id", userID).Int64("server_id", serverID).Msg("🔗 Issued authorization link")
	return s.auth.AuthorizeURL(state), nil
}

// CompleteAuthorization redeems code for the pending registration of
// (userID, serverID).
func (s *Service) CompleteAuthorization(ctx context.Context, userID string, serverID int64, code string) error {
	pending, err := s.states.ConsumeForIdentity(ctx, userID, serverID, s.now())
	if err != nil {
		return err
	}
	return s.complete(ctx, pending, code)
}

// CompleteAuthorizationForUser redeems code for the user's most recent
// pending registration on any server. Codes pasted into a direct message
// carry no server, so it returns the server the code was applied to.
func (s *Service) CompleteAuthorizationForUser(ctx context.Context, userID, code string) (int64, error) {
	pending, err := s.states.ConsumeLatestForUser(ctx, userID, s.now())
	if err != nil {
		return 0, err
	}
	return pending.ServerID, s.complete(ctx, pending, code)
}

// CompleteAuthorizationByState redeems code for whoever was issued state.
func (s *Service) CompleteAuthorizationByState(ctx context.Context, state, code string) (*models.AuthorizationState, error) {
	pending, err := s.states.Consume(ctx, state, s.now())
	if err != nil {
		return nil, err
	}
	return pending, s.complete(ctx, pending, code)
}

func (s *Service) complete(ctx context.Context, pending *models.AuthorizationState, code string) error {
	lg := logging.Ctx(ctx).With().Str("user_id", pending.UserID).Int64("server_id", pending.ServerID).Logger()

	tokens, err := s.auth.Exchange(ctx, code)
	if err != nil {
		lg.Warn().Err(err).Msg("❌ Code exchange failed")
		return err
	}
	user, err := s.stats.CurrentUser(ctx, tokens.AccessToken)
	if err != nil {
		lg.Warn().Err(err).Msg("❌ Identity lookup failed after exchange")
		return &wakatime.AuthError{Err: fmt.Errorf("lookup current user: %w", err)}
	}
	if err := s.creds.SetInitialTokens(ctx, pending.UserID, pending.ServerID, user.Username, tokens.AccessToken, tokens.RefreshToken); err != nil {
		return err
	}
	lg.Info().Str("remote_username", user.Username).Msg("✅ User authorized")
	return nil
}

// IndividualStats refreshes one user's tokens, fetches their stats and
// renders them. A transient refresh failure or a rotation lost to a
// concurrent refresh falls back to the stored access token; a rejected one is
// returned.
func (s *Service) IndividualStats(ctx context.Context, userID string, serverID int64, r stats.TimeRange) (string, error) {
	if err := s.tokens.RefreshUser(ctx, userID, serverID); err != nil {
		var authErr *wakatime.AuthError
		switch {
		case errors.Is(err, db.ErrNotFound):
			return "", err
		case errors.As(err, &authErr) && authErr.Permanent():
			return "", err
		case errors.Is(err, db.ErrTokenRotated):
			logging.Ctx(ctx).Debug().Str("user_id", userID).Msg("🔁 Tokens rotated concurrently, using stored access token")
		default:
			logging.Ctx(ctx).Warn().Err(err).Str("user_id", userID).Msg("⏳ Refresh failed, using stored access token")
		}
	}

	access, err := s.creds.GetAccessToken(ctx, userID, serverID)
	if err != nil {
		return "", err
	}
	payload, err := s.stats.Fetch(ctx, access, r)
	if err != nil {
		return "", err
	}
	name, err := s.dir.DisplayName(ctx, serverID, userID)
	if err != nil || name == "" {
		name = userID
	}
	entry, ok := leaderboard.NewEntry(userID, name, r, payload)
	if !ok {
		return "", ErrNoData
	}
	return leaderboard.RenderIndividual(entry, r), nil
}

// Leaderboard refreshes every token of serverID, fetches all stats and
// renders the ranking. limit <= 0 uses the server's configured size.
// serverName overrides the directory lookup when set.
func (s *Service) Leaderboard(ctx context.Context, serverID int64, serverName string, r stats.TimeRange, limit int) (string, error) {
	entries, err := s.Entries(ctx, serverID, r)
	if err != nil {
		return "", err
	}
	if limit <= 0 {
		cfg, err := db.GetServerConfig(ctx, s.db, serverID)
		if err != nil {
			return "", err
		}
		limit = cfg.LeaderboardSize
	}
	if serverName == "" {
		serverName = s.serverName(ctx, serverID)
	}
	return leaderboard.Render(entries, limit, serverName), nil
}

// Entries is the ranked data behind Leaderboard.
func (s *Service) Entries(ctx context.Context, serverID int64, r stats.TimeRange) ([]leaderboard.Entry, error) {
	if _, err := s.tokens.RefreshAll(ctx, serverID); err != nil {
		return nil, err
	}
	results, err := s.batch.FetchAll(ctx, serverID, r)
	if err != nil {
		return nil, err
	}
	names := leaderboard.NameResolverFunc(func(ctx context.Context, userID string) (string, error) {
		return s.dir.DisplayName(ctx, serverID, userID)
	})
	return leaderboard.Aggregate(ctx, results, r, names), nil
}

// RefreshServer runs a bulk token refresh without fetching stats.
func (s *Service) RefreshServer(ctx context.Context, serverID int64) (*token.Summary, error) {
	return s.tokens.RefreshAll(ctx, serverID)
}

// ServerConfig returns the settings of serverID.
func (s *Service) ServerConfig(ctx context.Context, serverID int64) (models.ServerConfig, error) {
	return db.GetServerConfig(ctx, s.db, serverID)
}

// UpdateServerConfig loads the settings of serverID, applies fn and saves.
func (s *Service) UpdateServerConfig(ctx context.Context, serverID int64, fn func(*models.ServerConfig) error) (models.ServerConfig, error) {
	cfg, err := db.GetServerConfig(ctx, s.db, serverID)
	if err != nil {
		return cfg, err
	}
	if err := fn(&cfg); err != nil {
		return cfg, err
	}
	if err := db.SaveServerConfig(ctx, s.db, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (s *Service) serverName(ctx context.Context, serverID int64) string {
	name, err := s.dir.ServerName(ctx, serverID)
	if err != nil || name == "" {
		return strconv.FormatInt(serverID, 10)
	}
	return name
}

// storedNames resolves names from the credential rows when no chat session
// is available.
type storedNames struct {
	creds *db.CredentialStore
}

func (n storedNames) DisplayName(ctx context.Context, serverID int64, userID string) (string, error) {
	cred, err := n.creds.Get(ctx, userID, serverID)
	if err != nil {
		return "", err
	}
	if cred.RemoteUsername != nil && *cred.RemoteUsername != "" {
		return *cred.RemoteUsername, nil
	}
	return userID, nil
}

func (n storedNames) ServerName(_ context.Context, serverID int64) (string, error) {
	return strconv.FormatInt(serverID, 10), nil
}
