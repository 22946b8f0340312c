package footprintapi

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tileNDJSON = `{"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[-93.25,44.95],[-93.24,44.95],[-93.24,44.96],[-93.25,44.96],[-93.25,44.95]]]},"properties":{"height":7.5,"confidence":0.92}}
{"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[-93.30,44.90],[-93.29,44.90],[-93.29,44.91],[-93.30,44.91],[-93.30,44.90]]]},"properties":{}}
`

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(srv.URL+"/index.csv", 5*time.Second, logger), srv
}

func indexHandler(srv func() string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/index.csv":
			fmt.Fprintf(w, "Location,QuadKey,Url,Size\nUnitedStates,023010,%s/tiles/023010,12345\n", srv())
		case "/tiles/023010":
			io.WriteString(w, tileNDJSON)
		default:
			http.NotFound(w, r)
		}
	}
}

func TestFetchTile(t *testing.T) {
	var base string
	client, srv := testClient(t, indexHandler(func() string { return base }))
	base = srv.URL

	tile, err := client.FetchTile(context.Background(), "023010")
	require.NoError(t, err)

	assert.Equal(t, "023010", tile.Quadkey)
	require.Len(t, tile.Buildings, 2)
	assert.Equal(t, "7.5", tile.Buildings[0].Attrs["height"])
	assert.Equal(t, "0.92", tile.Buildings[0].Attrs["confidence"])
	assert.IsType(t, orb.Polygon{}, tile.Buildings[0].Geometry)
	assert.False(t, tile.Bound.Min[0] == 0 && tile.Bound.Max[0] == 0)
}

func TestFetchTile_GzippedPayload(t *testing.T) {
	var base string
	client, srv := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/index.csv":
			fmt.Fprintf(w, "Location,QuadKey,Url,Size\nUnitedStates,023010,%s/tiles/023010.gz,1\n", base)
		case "/tiles/023010.gz":
			zw := gzip.NewWriter(w)
			io.WriteString(zw, tileNDJSON)
			zw.Close()
		default:
			http.NotFound(w, r)
		}
	}))
	base = srv.URL

	tile, err := client.FetchTile(context.Background(), "023010")
	require.NoError(t, err)
	assert.Len(t, tile.Buildings, 2)
}

func TestFetchTile_NoCoverageIsEmptyNotError(t *testing.T) {
	var base string
	client, srv := testClient(t, indexHandler(func() string { return base }))
	base = srv.URL

	tile, err := client.FetchTile(context.Background(), "311111")
	require.NoError(t, err)
	assert.Equal(t, "311111", tile.Quadkey)
	assert.Empty(t, tile.Buildings)
}

func TestFetchTile_IndexFetchedOnce(t *testing.T) {
	var indexHits atomic.Int32
	var base string
	client, srv := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/index.csv":
			indexHits.Add(1)
			fmt.Fprintf(w, "Location,QuadKey,Url,Size\nUnitedStates,023010,%s/tiles/023010,1\n", base)
		case "/tiles/023010":
			io.WriteString(w, tileNDJSON)
		default:
			http.NotFound(w, r)
		}
	}))
	base = srv.URL

	for i := 0; i < 3; i++ {
		_, err := client.FetchTile(context.Background(), "023010")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), indexHits.Load())
}

func TestFetchTile_IndexFailureIsNotCached(t *testing.T) {
	var indexHits atomic.Int32
	var base string
	client, srv := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/index.csv":
			if indexHits.Add(1) == 1 {
				http.Error(w, "index unavailable", http.StatusInternalServerError)
				return
			}
			fmt.Fprintf(w, "Location,QuadKey,Url,Size\nUnitedStates,023010,%s/tiles/023010,1\n", base)
		case "/tiles/023010":
			io.WriteString(w, tileNDJSON)
		default:
			http.NotFound(w, r)
		}
	}))
	base = srv.URL

	_, err := client.FetchTile(context.Background(), "023010")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch index")

	tile, err := client.FetchTile(context.Background(), "023010")
	require.NoError(t, err)
	assert.Len(t, tile.Buildings, 2)
	assert.Equal(t, int32(2), indexHits.Load())
}

func TestFetchTile_ServerError(t *testing.T) {
	var base string
	client, srv := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/index.csv":
			fmt.Fprintf(w, "Location,QuadKey,Url,Size\nUnitedStates,023010,%s/tiles/023010,1\n", base)
		default:
			http.Error(w, "upstream exploded", http.StatusBadGateway)
		}
	}))
	base = srv.URL

	_, err := client.FetchTile(context.Background(), "023010")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestFetchTile_InvalidQuadkey(t *testing.T) {
	client, _ := testClient(t, http.NotFoundHandler())
	_, err := client.FetchTile(context.Background(), "not-a-quadkey")
	require.Error(t, err)
}

func TestParseIndex_MissingColumns(t *testing.T) {
	_, err := parseIndex(strings.NewReader("Location,Size\nUnitedStates,1\n"))
	require.Error(t, err)
}
