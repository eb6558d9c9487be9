package vectordb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kediaman/orchestrator/internal/models"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	c := NewClient(Config{Host: u.Hostname(), Port: port, Collection: "properties"}, zap.NewNop())
	return c, srv.Close
}

func TestSearchPropertiesDecodesPayload(t *testing.T) {
	c, done := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/points/query"))

		var req qdrantQueryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 5, req.Limit)
		require.NotNil(t, req.Filter)

		resp := qdrantQueryResponse{}
		resp.Result.Points = []qdrantPoint{
			{
				ID:    "p-1",
				Score: 0.91,
				Payload: map[string]interface{}{
					"id":           "p-1",
					"name":         "The Park Residences",
					"price":        820000.0,
					"location":     "Bangsar South",
					"bedrooms":     3,
					"insertion_id": 14,
				},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer done()

	got, err := c.SearchProperties(context.Background(), []float32{0.1, 0.2},
		models.SearchFilters{Location: "Bangsar South", PriceMax: 900000}, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "p-1", got[0].Record.ID)
	assert.Equal(t, "The Park Residences", got[0].Record.Name)
	assert.Equal(t, int64(14), got[0].Record.InsertionID)
	assert.Equal(t, 0.91, got[0].Score)
}

func TestSearchPropertiesFallsBackToLegacyEndpoint(t *testing.T) {
	c, done := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/points/query") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		require.True(t, strings.HasSuffix(r.URL.Path, "/points/search"))
		_ = json.NewEncoder(w).Encode(qdrantSearchResponse{
			Result: []qdrantPoint{
				{ID: "p-2", Score: 0.7, Payload: map[string]interface{}{"id": "p-2", "name": "Pantai Panorama"}},
			},
		})
	}))
	defer done()

	got, err := c.SearchProperties(context.Background(), []float32{0.3}, models.SearchFilters{}, 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "p-2", got[0].Record.ID)
}

func TestBuildFilterClauses(t *testing.T) {
	f := buildFilter(models.SearchFilters{
		PropertyType: "condo",
		PriceMin:     500000,
		PriceMax:     800000,
		Bedrooms:     2,
	})
	require.NotNil(t, f)
	must := f["must"].([]map[string]interface{})
	assert.Len(t, must, 3)

	assert.Nil(t, buildFilter(models.SearchFilters{}), "no constraints means no filter")
}
