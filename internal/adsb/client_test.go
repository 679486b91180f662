package adsb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yegors/flightfusion/internal/geo"
	"github.com/yegors/flightfusion/pkg/logger"
)

const statesBody = `{
  "time": 1700000000,
  "states": [
    ["3c6444", "DLH123  ", "Germany", 1700000000, 1700000001, 8.5622, 50.0379, 3048.0, false, 128.6, 270.5, -2.5],
    null,
    "garbage",
    ["4b1805", null, "Switzerland", null, null, 8.6, 50.1, null, true, null, null, null]
  ]
}`

func newTestClient(t *testing.T, cfg ClientConfig) *Client {
	t.Helper()
	return NewClient(cfg, logger.NewNop())
}

func TestFetchStatesDecodesAndDropsNulls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/states/all", r.URL.Path)
		assert.NotEmpty(t, r.URL.Query().Get("lamin"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(statesBody))
	}))
	defer srv.Close()

	client := newTestClient(t, ClientConfig{BaseURL: srv.URL})
	snap, err := client.FetchStates(context.Background(), geo.Tile(50.0379, 8.5622, 100))
	require.NoError(t, err)

	require.Len(t, snap.States, 2)
	assert.Equal(t, 2, snap.Discarded)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), snap.Time)

	first := snap.States[0]
	assert.Equal(t, "3c6444", first.ICAO24)
	require.NotNil(t, first.Callsign)
	assert.Equal(t, "DLH123  ", *first.Callsign)
	require.NotNil(t, first.LastContact)
	assert.Equal(t, int64(1700000001), *first.LastContact)
	require.NotNil(t, first.Latitude)
	assert.InDelta(t, 50.0379, *first.Latitude, 1e-9)

	second := snap.States[1]
	assert.Nil(t, second.Callsign)
	assert.Nil(t, second.BaroAltitudeM)
	require.NotNil(t, second.OnGround)
	assert.True(t, *second.OnGround)
}

func TestFetchStatesNullCollection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"time": 1700000000, "states": null}`))
	}))
	defer srv.Close()

	client := newTestClient(t, ClientConfig{BaseURL: srv.URL})
	snap, err := client.FetchStates(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, snap.States)
}

func TestFetchStatesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(t, ClientConfig{BaseURL: srv.URL})
	_, err := client.FetchStates(context.Background(), geo.Tile(50, 8, 100))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status code: 500")
}

func TestFetchStatesPartialTileFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(statesBody))
	}))
	defer srv.Close()

	tiles := geo.Tile(50.0379, 8.5622, 1200)
	client := newTestClient(t, ClientConfig{BaseURL: srv.URL})
	snap, err := client.FetchStates(context.Background(), tiles)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.FailedTiles)
	assert.Len(t, snap.States, 2*(len(tiles)-1))
	assert.Equal(t, int32(len(tiles)), calls.Load())
}

func TestFetchStatesRetriesAnonymouslyOnAuthFailure(t *testing.T) {
	var authed, anonymous atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			authed.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		anonymous.Add(1)
		w.Write([]byte(statesBody))
	}))
	defer srv.Close()

	client := newTestClient(t, ClientConfig{BaseURL: srv.URL, Username: "user", Password: "secret"})
	snap, err := client.FetchStates(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, snap.States, 2)
	assert.Equal(t, int32(1), authed.Load())
	assert.Equal(t, int32(1), anonymous.Load())
}

func TestFetchStatesBothAttemptsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := newTestClient(t, ClientConfig{BaseURL: srv.URL, Username: "user", Password: "secret"})
	_, err := client.FetchStates(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Contains(t, err.Error(), "anonymous attempt")
}

func TestFetchStatesUsesTokenFromCredentialsFile(t *testing.T) {
	var tokenRequests atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokenRequests.Add(1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "my-client", r.PostForm.Get("client_id"))
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-1", "expires_in": 1800})
	})
	mux.HandleFunc("/states/all", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(statesBody))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	credsPath := filepath.Join(t.TempDir(), "credentials.json")
	creds := `{"client_id": "my-client", "client_secret": "s3cret", "token_url": "` + srv.URL + `/token"}`
	require.NoError(t, os.WriteFile(credsPath, []byte(creds), 0o600))

	client := newTestClient(t, ClientConfig{BaseURL: srv.URL, CredentialsPath: credsPath})
	for i := 0; i < 2; i++ {
		snap, err := client.FetchStates(context.Background(), nil)
		require.NoError(t, err)
		assert.Len(t, snap.States, 2)
	}
	assert.Equal(t, int32(1), tokenRequests.Load(), "token should be cached between requests")
}

func TestFetchStatesMalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer srv.Close()

	client := newTestClient(t, ClientConfig{BaseURL: srv.URL})
	_, err := client.FetchStates(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "failed to parse states JSON"))
}

func TestDecodeStateShortArray(t *testing.T) {
	var fields []StateField
	require.NoError(t, json.Unmarshal([]byte(`["abc123", "UAL1"]`), &fields))

	sv := DecodeState(fields)
	assert.Equal(t, "abc123", sv.ICAO24)
	require.NotNil(t, sv.Callsign)
	assert.Equal(t, "UAL1", *sv.Callsign)
	assert.Nil(t, sv.Latitude)
	assert.False(t, sv.HasPosition())
}

func TestStateFieldToleratesOddShapes(t *testing.T) {
	var fields []StateField
	require.NoError(t, json.Unmarshal([]byte(`["1.5", {"x": 1}, [1, 2], true, null]`), &fields))
	require.Len(t, fields, 5)

	v, ok := fields[0].Float64()
	assert.True(t, ok)
	assert.Equal(t, 1.5, v)
	assert.True(t, fields[1].IsNull())
	assert.True(t, fields[2].IsNull())
	b, ok := fields[3].Bool()
	assert.True(t, ok)
	assert.True(t, b)
	assert.True(t, fields[4].IsNull())
}
