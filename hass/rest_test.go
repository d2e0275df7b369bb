package hass

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaflik/hundesystem/pkg/retry"
)

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1}
}

func TestRESTClient_GetState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer "+testToken, r.Header.Get("Authorization"))

		switch r.URL.Path {
		case "/api/states/input_boolean.bello_outside":
			_, _ = w.Write([]byte(`{"entity_id":"input_boolean.bello_outside","state":"off","attributes":{"friendly_name":"Bello Draußen"},"last_updated":"2024-06-01T07:00:00+00:00"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	c, err := NewRESTClient(server.URL, testToken, WithRetryConfig(fastRetry()))
	require.NoError(t, err)

	state, err := c.GetState(context.Background(), "input_boolean.bello_outside")
	require.NoError(t, err)
	assert.Equal(t, "off", state.State)
	assert.Equal(t, "Bello Draußen", state.FriendlyName())

	_, err = c.GetState(context.Background(), "input_boolean.bello_missing")
	assert.True(t, IsNotFound(err))

	host := &Host{REST: c}
	missing, err := host.Lookup(context.Background(), "input_boolean.bello_missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRESTClient_SetStateRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	var body map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c, err := NewRESTClient("ws://"+server.Listener.Addr().String(), testToken, WithRetryConfig(fastRetry()))
	require.NoError(t, err)

	err = c.SetState(context.Background(), "binary_sensor.bello_feeding_complete", "on", map[string]any{"completed": 3})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "on", body["state"])
	assert.Equal(t, map[string]any{"completed": float64(3)}, body["attributes"])
}

func TestRESTClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	c, err := NewRESTClient(server.URL, testToken, WithRetryConfig(fastRetry()))
	require.NoError(t, err)

	err = c.SetState(context.Background(), "binary_sensor.x", "on", nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	_, err = NewRESTClient("ftp://example", testToken)
	assert.Error(t, err)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(ErrUnauthorized))
	assert.False(t, IsRetryable(ErrEntityNotFound))
	assert.False(t, IsRetryable(ErrAuthInvalid))
	assert.False(t, IsRetryable(NewError(http.StatusBadRequest, "bad", nil)))
	assert.True(t, IsRetryable(NewError(http.StatusTooManyRequests, "slow down", nil)))
	assert.True(t, IsRetryable(NewError(http.StatusServiceUnavailable, "down", nil)))
	assert.True(t, IsRetryable(ErrTimeout))
	assert.True(t, IsRetryable(assert.AnError))
}
