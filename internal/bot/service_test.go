package bot

import (
	"context"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/imMewtable/wakatime-bot/internal/auth/wakatime"
	"github.com/imMewtable/wakatime-bot/internal/db"
	"github.com/imMewtable/wakatime-bot/internal/stats"
	"github.com/imMewtable/wakatime-bot/internal/wakatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testServer int64 = 892121935658504232

type fixture struct {
	svc  *Service
	db   *gorm.DB
	waka *wakatest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := db.InitDB(db.DriverSQLite, filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	waka := wakatest.NewServer()
	t.Cleanup(waka.Close)

	svc := NewService(Deps{
		DB:        conn,
		Auth:      wakatime.NewClient("app-id", "app-secret", "", nil, wakatime.WithEndpoint(waka.AuthURL(), waka.TokenURL())),
		Stats:     stats.NewClient(stats.WithBaseURL(waka.APIBaseURL()), stats.WithRateLimit(1000)),
		StateTTL:  time.Minute,
		Directory: staticDirectory{"alice": "Alice", "bob": "Bob", "carol": "Carol"},
	})
	return &fixture{svc: svc, db: conn, waka: waka}
}

// staticDirectory resolves known users only.
type staticDirectory map[string]string

func (d staticDirectory) DisplayName(_ context.Context, _ int64, userID string) (string, error) {
	if name, ok := d[userID]; ok {
		return name, nil
	}
	return "", db.ErrNotFound
}

func (d staticDirectory) ServerName(context.Context, int64) (string, error) {
	return "Gophers", nil
}

// register runs the whole link flow for user.
func (f *fixture) register(t *testing.T, user string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.BeginRegistration(ctx, user, testServer)
	require.NoError(t, err)
	require.NoError(t, f.svc.CompleteAuthorization(ctx, user, testServer, "code-"+user))
}

func TestBeginRegistration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	link, err := f.svc.BeginRegistration(ctx, "alice", testServer)
	require.NoError(t, err)
	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "code", u.Query().Get("response_type"))
	first := u.Query().Get("state")
	assert.Len(t, first, 32)

	// Not authorized yet, so a second request gets a fresh link.
	link, err = f.svc.BeginRegistration(ctx, "alice", testServer)
	require.NoError(t, err)
	u, _ = url.Parse(link)
	assert.NotEqual(t, first, u.Query().Get("state"))

	_, err = f.svc.CompleteAuthorizationByState(ctx, first, "code-alice")
	assert.ErrorIs(t, err, db.ErrNotFound, "replaced state must not be redeemable")

	require.NoError(t, f.svc.CompleteAuthorization(ctx, "alice", testServer, "code-alice"))

	_, err = f.svc.BeginRegistration(ctx, "alice", testServer)
	assert.ErrorIs(t, err, db.ErrConflict)
	assert.Equal(t, MsgAlreadyRegistered, UserMessage(err))
}

func TestCompleteAuthorization_StoresTokensAndUsername(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice")

	cred, err := db.NewCredentialStore(f.db).Get(ctx, "alice", testServer)
	require.NoError(t, err)
	assert.Equal(t, "acc-alice-1", cred.AccessTokenValue())
	assert.Equal(t, "ref-alice-1", cred.RefreshTokenValue())
	require.NotNil(t, cred.RemoteUsername)
	assert.Equal(t, "alice_waka", *cred.RemoteUsername)
}

func TestCompleteAuthorization_BadCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.BeginRegistration(ctx, "alice", testServer)
	require.NoError(t, err)

	err = f.svc.CompleteAuthorization(ctx, "alice", testServer, "garbage")
	assert.Equal(t, MsgAuthFailed, UserMessage(err))

	_, err = db.NewCredentialStore(f.db).GetAccessToken(ctx, "alice", testServer)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestCompleteAuthorization_WithoutRegistration(t *testing.T) {
	f := newFixture(t)
	err := f.svc.CompleteAuthorization(context.Background(), "ghost", testServer, "code-ghost")
	assert.Equal(t, MsgRegisterFirst, UserMessage(err))
}

func TestCompleteAuthorizationForUser_ResolvesServer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.BeginRegistration(ctx, "alice", 1)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = f.svc.BeginRegistration(ctx, "alice", 2)
	require.NoError(t, err)

	server, err := f.svc.CompleteAuthorizationForUser(ctx, "alice", "code-alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), server)

	creds := db.NewCredentialStore(f.db)
	_, err = creds.GetAccessToken(ctx, "alice", 2)
	assert.NoError(t, err)
	_, err = creds.GetAccessToken(ctx, "alice", 1)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestCompleteAuthorization_ExpiredLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.BeginRegistration(ctx, "alice", testServer)
	require.NoError(t, err)

	f.svc.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	err = f.svc.CompleteAuthorization(ctx, "alice", testServer, "code-alice")
	assert.ErrorIs(t, err, db.ErrStateExpired)
	assert.Equal(t, MsgLinkExpired, UserMessage(err))
}

func TestIndividualStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice")
	f.waka.SetStats("alice", 7260, "Python", "Go", "Python")

	text, err := f.svc.IndividualStats(ctx, "alice", testServer, stats.RangeWeek)
	require.NoError(t, err)
	assert.Equal(t, "**Alice** coded *7260 secs* in the last 7 days\nMost used language: **Python**", text)
	assert.Equal(t, "ref-alice-2", f.waka.CurrentRefreshToken("alice"), "stats request rotates tokens")

	text, err = f.svc.IndividualStats(ctx, "alice", testServer, stats.RangeAllTime)
	require.NoError(t, err)
	assert.Equal(t, "**Alice** coded *7260 secs* in total", text)
}

func TestIndividualStats_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.IndividualStats(ctx, "nobody", testServer, stats.RangeWeek)
	assert.Equal(t, MsgRegisterFirst, UserMessage(err))

	f.register(t, "bob")
	f.waka.FailStats("bob")
	_, err = f.svc.IndividualStats(ctx, "bob", testServer, stats.RangeWeek)
	assert.Equal(t, MsgNoData, UserMessage(err))

	f.register(t, "carol")
	f.waka.Revoke("carol")
	_, err = f.svc.IndividualStats(ctx, "carol", testServer, stats.RangeWeek)
	assert.Equal(t, MsgAuthFailed, UserMessage(err))
}

func TestLeaderboard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, u := range []string{"alice", "bob", "carol", "dave", "erin"} {
		f.register(t, u)
	}
	f.waka.SetStats("alice", 500)
	f.waka.SetStats("bob", 1500)
	f.waka.SetStats("carol", 1500)
	f.waka.SetStats("dave", 9999) // not resolvable by the directory
	f.waka.SetStats("erin", 8000)
	f.waka.Revoke("erin")
	f.waka.FailStats("erin")

	text, err := f.svc.Leaderboard(ctx, testServer, "", stats.RangeWeek, 0)
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		"**Top 5 of Gophers:**",
		"**[1]** Bob - *1500 secs*",
		"**[2]** Carol - *1500 secs*",
		"**[3]** Alice - *500 secs*",
	}, "\n"), text)

	for _, u := range []string{"alice", "bob", "carol", "erin"} {
		assert.Equal(t, 1, f.waka.RefreshCalls(u), u)
	}

	text, err = f.svc.Leaderboard(ctx, testServer, "Custom", stats.RangeAllTime, 1)
	require.NoError(t, err)
	assert.Equal(t, "**Top 1 of Custom:**\n**[1]** Bob - *1500 secs*", text)
}

func TestRefreshServer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice")
	f.register(t, "bob")
	f.waka.Revoke("bob")
	_, err := f.svc.BeginRegistration(ctx, "carol", testServer)
	require.NoError(t, err)

	summary, err := f.svc.RefreshServer(ctx, testServer)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Refreshed)
	assert.Equal(t, 1, summary.Rejected)
	assert.Equal(t, 1, summary.Skipped)
}

// racingAuthorizer lets a competing refresh win the rotation: it stores the
// real new pair itself and hands the caller a pair that can no longer apply.
type racingAuthorizer struct {
	Authorizer
	creds    *db.CredentialStore
	userID   string
	serverID int64
}

func (a racingAuthorizer) Refresh(ctx context.Context, refreshToken string) (wakatime.Tokens, error) {
	won, err := a.Authorizer.Refresh(ctx, refreshToken)
	if err != nil {
		return wakatime.Tokens{}, err
	}
	if err := a.creds.RotateTokens(ctx, a.userID, a.serverID, refreshToken, won.AccessToken, won.RefreshToken); err != nil {
		return wakatime.Tokens{}, err
	}
	return wakatime.Tokens{AccessToken: "acc-lost", RefreshToken: "ref-lost"}, nil
}

func TestIndividualStats_LostRotationUsesStoredToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice")
	f.waka.SetStats("alice", 7260, "Go")

	creds := db.NewCredentialStore(f.db)
	svc := NewService(Deps{
		DB: f.db,
		Auth: racingAuthorizer{
			Authorizer: f.svc.auth,
			creds:      creds,
			userID:     "alice",
			serverID:   testServer,
		},
		Stats:     f.svc.stats,
		Directory: staticDirectory{"alice": "Alice"},
	})

	text, err := svc.IndividualStats(ctx, "alice", testServer, stats.RangeWeek)
	require.NoError(t, err)
	assert.Equal(t, "**Alice** coded *7260 secs* in the last 7 days\nMost used language: **Go**", text)

	cred, err := creds.Get(ctx, "alice", testServer)
	require.NoError(t, err)
	assert.True(t, cred.Authenticated())
	assert.Equal(t, "ref-alice-2", cred.RefreshTokenValue(), "winning pair stays stored")
}
