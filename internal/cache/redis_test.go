package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type cachedReading struct {
	City        string  `json:"city"`
	Temperature float64 `json:"temperature"`
}

func TestRedis_MissFetchesAndStores(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewRedis[cachedReading](client, "weather:", zap.NewNop())
	key := NewKey(EndpointCurrent, "Seattle", "US", "metric")

	mock.ExpectGet("weather:owm:current:seattle:us:metric").RedisNil()
	mock.ExpectSet("weather:owm:current:seattle:us:metric", `{"city":"Seattle","temperature":12.4}`, 5*time.Minute).SetVal("OK")

	got, err := c.GetOrFetch(context.Background(), key, 5*time.Minute, func(context.Context) (cachedReading, error) {
		return cachedReading{City: "Seattle", Temperature: 12.4}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Seattle", got.City)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_HitSkipsFetch(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewRedis[cachedReading](client, "", zap.NewNop())
	key := NewKey(EndpointCurrent, "Seattle", "US", "metric")

	mock.ExpectGet(key.String()).SetVal(`{"city":"Seattle","temperature":9.5}`)

	got, err := c.GetOrFetch(context.Background(), key, time.Minute, func(context.Context) (cachedReading, error) {
		t.Fatal("fetch must not be called on a hit")
		return cachedReading{}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 9.5, got.Temperature)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_ReadErrorFallsBackToFetch(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewRedis[cachedReading](client, "", zap.NewNop())
	key := NewKey(EndpointForecast, "Oslo", "", "imperial")

	mock.ExpectGet(key.String()).SetErr(errors.New("connection refused"))
	mock.ExpectSet(key.String(), `{"city":"Oslo","temperature":41}`, MinTTL).SetVal("OK")

	got, err := c.GetOrFetch(context.Background(), key, 0, func(context.Context) (cachedReading, error) {
		return cachedReading{City: "Oslo", Temperature: 41}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Oslo", got.City)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_FetchErrorIsNotStored(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewRedis[cachedReading](client, "", zap.NewNop())
	key := NewKey(EndpointCurrent, "Nowhere", "", "metric")
	boom := errors.New("upstream down")

	mock.ExpectGet(key.String()).RedisNil()

	_, err := c.GetOrFetch(context.Background(), key, time.Minute, func(context.Context) (cachedReading, error) {
		return cachedReading{}, boom
	})
	require.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_CancelledCallerStillStoresSharedFetch(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewRedis[cachedReading](client, "", zap.NewNop())
	key := NewKey(EndpointCurrent, "Lima", "PE", "metric")

	mock.ExpectGet(key.String()).RedisNil()
	mock.ExpectSet(key.String(), `{"city":"Lima","temperature":19}`, time.Minute).SetVal("OK")

	fetching := make(chan struct{})
	release := make(chan struct{})
	fetchDone := make(chan error, 1)

	ctx, cancel := context.WithCancel(context.Background())
	callerErr := make(chan error, 1)
	go func() {
		_, err := c.GetOrFetch(ctx, key, time.Minute, func(fetchCtx context.Context) (cachedReading, error) {
			close(fetching)
			<-release
			fetchDone <- fetchCtx.Err()
			return cachedReading{City: "Lima", Temperature: 19}, nil
		})
		callerErr <- err
	}()
	<-fetching

	cancel()
	require.ErrorIs(t, <-callerErr, context.Canceled)

	close(release)
	// The fetch context is detached from the cancelled caller.
	require.NoError(t, <-fetchDone)

	// Joining the key waits for the in-flight fetch (and its write) to finish.
	_, _, _ = c.group.Do(key.String(), func() (interface{}, error) { return nil, nil })
	assert.NoError(t, mock.ExpectationsWereMet())
}
