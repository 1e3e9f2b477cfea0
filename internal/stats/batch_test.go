package stats

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/imMewtable/wakatime-bot/internal/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	creds []models.UserCredential
	err   error
}

func (f fakeLister) ListAuthenticatedUsers(context.Context, int64) ([]models.UserCredential, error) {
	return f.creds, f.err
}

type fakeFetcher struct {
	mu       sync.Mutex
	inFlight int32
	peak     int32
	fail     map[string]bool
	delay    time.Duration
}

func (f *fakeFetcher) Fetch(_ context.Context, token string, r TimeRange) (*Payload, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	f.mu.Lock()
	if n > f.peak {
		f.peak = n
	}
	f.mu.Unlock()
	time.Sleep(f.delay)

	if f.fail[token] {
		return nil, &APIError{StatusCode: 401, Endpoint: "users/current/summaries"}
	}
	return &Payload{Range: r, AllTime: &AllTimeResponse{}}, nil
}

func cred(user, token string) models.UserCredential {
	return models.UserCredential{UserID: user, ServerID: 1, AccessToken: &token}
}

func TestFetchAll_ToleratesPartialFailure(t *testing.T) {
	lister := fakeLister{creds: []models.UserCredential{
		cred("alice", "tok-a"), cred("bob", "tok-b"), cred("carol", "tok-c"),
	}}
	fetcher := &fakeFetcher{fail: map[string]bool{"tok-b": true}}

	results, err := NewBatchFetcher(lister, fetcher, 4).FetchAll(context.Background(), 1, RangeAllTime)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "alice", results[0].Credential.UserID)
	assert.NoError(t, results[0].Err)
	assert.NotNil(t, results[0].Payload)

	assert.Equal(t, "bob", results[1].Credential.UserID)
	var apiErr *APIError
	assert.ErrorAs(t, results[1].Err, &apiErr)
	assert.Nil(t, results[1].Payload)

	assert.Equal(t, "carol", results[2].Credential.UserID)
	assert.NoError(t, results[2].Err)
}

func TestFetchAll_BoundsConcurrency(t *testing.T) {
	var creds []models.UserCredential
	for i := 0; i < 12; i++ {
		creds = append(creds, cred(string(rune('a'+i)), "tok"))
	}
	fetcher := &fakeFetcher{delay: 10 * time.Millisecond}

	results, err := NewBatchFetcher(fakeLister{creds: creds}, fetcher, 3).FetchAll(context.Background(), 1, RangeWeek)
	require.NoError(t, err)
	assert.Len(t, results, 12)
	assert.LessOrEqual(t, fetcher.peak, int32(3))
	assert.Greater(t, fetcher.peak, int32(1))
}

func TestFetchAll_SnapshotError(t *testing.T) {
	boom := errors.New("db down")
	_, err := NewBatchFetcher(fakeLister{err: boom}, &fakeFetcher{}, 2).FetchAll(context.Background(), 1, RangeWeek)
	assert.ErrorIs(t, err, boom)
}

func TestFetchAll_NoUsers(t *testing.T) {
	results, err := NewBatchFetcher(fakeLister{}, &fakeFetcher{}, 2).FetchAll(context.Background(), 1, RangeWeek)
	require.NoError(t, err)
	assert.Empty(t, results)
}
