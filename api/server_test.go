package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, config ServerConfig) (*ServerImpl, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	if config.RateLimit.Limit == 0 {
		// High enough that only the rate-limit tests trip it; httptest
		// requests all share one client IP.
		config.RateLimit.Limit = 1000
	}
	server, err := NewServer(config)
	require.NoError(t, err)
	require.NoError(t, server.Start())
	t.Cleanup(server.Close)

	router := gin.New()
	server.RegisterRoutes(router)
	return server, router
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createItem(t *testing.T, router *gin.Engine, body map[string]any) ItemView {
	t.Helper()
	w := doJSON(router, http.MethodPost, "/auction/item", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var item ItemView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &item))
	require.Equal(t, item.ID, w.Header().Get("Location"))
	return item
}

func openItemBody(name string) map[string]any {
	return map[string]any{
		"name":          name,
		"startingPrice": "100",
		"openTime":      time.Now().Add(-time.Minute),
		"closeTime":     time.Now().Add(time.Hour),
	}
}

func TestPing(t *testing.T) {
	_, router := newTestServer(t, ServerConfig{})

	w := doJSON(router, http.MethodGet, "/ping?echo=hello", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pong")
	assert.Contains(t, w.Body.String(), "hello")
}

func TestCreateItemSanitizesDescription(t *testing.T) {
	_, router := newTestServer(t, ServerConfig{})

	body := openItemBody("Lamp")
	body["description"] = `<p>nice</p><script>alert(1)</script>`
	item := createItem(t, router, body)

	assert.Contains(t, item.Description, "<p>nice</p>")
	assert.NotContains(t, item.Description, "script")
}

func TestCreateItemValidation(t *testing.T) {
	_, router := newTestServer(t, ServerConfig{})

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing name", map[string]any{
			"startingPrice": "100",
			"closeTime":     time.Now().Add(time.Hour),
		}},
		{"negative price", map[string]any{
			"name":          "X",
			"startingPrice": "-1",
			"closeTime":     time.Now().Add(time.Hour),
		}},
		{"too many decimal places", map[string]any{
			"name":          "X",
			"startingPrice": "10.999",
			"closeTime":     time.Now().Add(time.Hour),
		}},
		{"close before open", map[string]any{
			"name":          "X",
			"startingPrice": "100",
			"openTime":      time.Now().Add(2 * time.Hour),
			"closeTime":     time.Now().Add(time.Hour),
		}},
		{"reserve below starting", map[string]any{
			"name":          "X",
			"startingPrice": "100",
			"reservePrice":  "50",
			"closeTime":     time.Now().Add(time.Hour),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(router, http.MethodPost, "/auction/item", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestGetItemAndRelated(t *testing.T) {
	_, router := newTestServer(t, ServerConfig{})

	body := openItemBody("Clock")
	body["category"] = "antiques"
	item := createItem(t, router, body)

	other := openItemBody("Vase")
	other["category"] = "antiques"
	createItem(t, router, other)

	w := doJSON(router, http.MethodGet, "/auction/item/"+item.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp GetItemResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Clock", resp.Item.Name)
	assert.Equal(t, "open", resp.Item.Status)
	require.Len(t, resp.Related, 1)
	assert.Equal(t, "Vase", resp.Related[0].Name)

	// Each read counts as one view.
	w = doJSON(router, http.MethodGet, "/auction/item/"+item.ID, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(2), resp.Item.Views)

	w = doJSON(router, http.MethodGet, "/auction/item/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = doJSON(router, http.MethodGet, "/auction/item/00000000-0000-0000-0000-000000000000", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPlaceBidFlow(t *testing.T) {
	_, router := newTestServer(t, ServerConfig{})
	item := createItem(t, router, openItemBody("Painting"))

	bidsPath := fmt.Sprintf("/auction/item/%s/bids", item.ID)

	// Equal to the current price is below the floor.
	w := doJSON(router, http.MethodPost, bidsPath, map[string]any{
		"amount":     "100",
		"bidderName": "alice",
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	var rejected PlaceBidResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rejected))
	assert.False(t, rejected.Accepted)
	assert.Equal(t, "too_low", rejected.Reason)
	require.NotNil(t, rejected.MinNextBid)
	assert.Equal(t, "101", rejected.MinNextBid.String())

	// Above the floor wins.
	w = doJSON(router, http.MethodPost, bidsPath, map[string]any{
		"amount":        "150",
		"bidderName":    "alice",
		"bidderContact": "alice@example.com",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var accepted PlaceBidResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))
	assert.True(t, accepted.Accepted)
	require.NotNil(t, accepted.Bid)
	assert.True(t, accepted.Bid.Leading)
	require.NotNil(t, accepted.Item)
	assert.Equal(t, "150", accepted.Item.CurrentPrice.String())
	assert.Equal(t, 1, accepted.Item.BidCount)

	// History shows the accepted bid, newest first.
	w = doJSON(router, http.MethodGet, bidsPath, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history BidListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Equal(t, 1, history.Total)
	assert.Equal(t, "alice", history.Bids[0].BidderName)
}

func TestPlaceBidRejections(t *testing.T) {
	_, router := newTestServer(t, ServerConfig{})

	notOpen := openItemBody("Future")
	notOpen["openTime"] = time.Now().Add(time.Hour)
	notOpen["closeTime"] = time.Now().Add(2 * time.Hour)
	future := createItem(t, router, notOpen)

	closed := openItemBody("Past")
	closed["openTime"] = time.Now().Add(-2 * time.Hour)
	closed["closeTime"] = time.Now().Add(-time.Hour)
	past := createItem(t, router, closed)

	reserve := openItemBody("Guarded")
	reserve["reservePrice"] = "500"
	guarded := createItem(t, router, reserve)

	bid := map[string]any{"amount": "200", "bidderName": "bob"}

	w := doJSON(router, http.MethodPost, fmt.Sprintf("/auction/item/%s/bids", future.ID), bid)
	assert.Equal(t, http.StatusForbidden, w.Code, w.Body.String())

	w = doJSON(router, http.MethodPost, fmt.Sprintf("/auction/item/%s/bids", past.ID), bid)
	assert.Equal(t, http.StatusGone, w.Code, w.Body.String())

	w = doJSON(router, http.MethodPost, fmt.Sprintf("/auction/item/%s/bids", guarded.ID), bid)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	var resp PlaceBidResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "reserve_not_met", resp.Reason)

	w = doJSON(router, http.MethodPost, "/auction/item/00000000-0000-0000-0000-000000000000/bids", bid)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(router, http.MethodPost, fmt.Sprintf("/auction/item/%s/bids", guarded.ID), map[string]any{
		"amount":     "200.999",
		"bidderName": "bob",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, http.MethodPost, fmt.Sprintf("/auction/item/%s/bids", guarded.ID), map[string]any{
		"amount":     "200",
		"bidderName": "   ",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPlaceBidRateLimited(t *testing.T) {
	_, router := newTestServer(t, ServerConfig{
		RateLimit: RateLimitConfig{Window: time.Minute, Limit: 2},
	})
	item := createItem(t, router, openItemBody("Hot"))
	bidsPath := fmt.Sprintf("/auction/item/%s/bids", item.ID)

	for i := 0; i < 2; i++ {
		w := doJSON(router, http.MethodPost, bidsPath, map[string]any{
			"amount":     fmt.Sprintf("%d", 200+i),
			"bidderName": "carol",
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w := doJSON(router, http.MethodPost, bidsPath, map[string]any{
		"amount":     "300",
		"bidderName": "carol",
	})
	require.Equal(t, http.StatusTooManyRequests, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	var resp PlaceBidResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "rate_limited", resp.Reason)

	// The rate-limited attempt never reached the engine; the price is
	// untouched.
	getW := doJSON(router, http.MethodGet, "/auction/item/"+item.ID, nil)
	var getResp GetItemResponse
	require.NoError(t, json.Unmarshal(getW.Body.Bytes(), &getResp))
	assert.Equal(t, "201", getResp.Item.CurrentPrice.String())
}

func TestListItems(t *testing.T) {
	_, router := newTestServer(t, ServerConfig{})

	art := openItemBody("Sunset Painting")
	art["category"] = "art"
	createItem(t, router, art)

	book := openItemBody("First Edition")
	book["category"] = "books"
	createItem(t, router, book)

	w := doJSON(router, http.MethodGet, "/auction/items?category=art", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp ListItemsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "Sunset Painting", resp.Items[0].Name)

	w = doJSON(router, http.MethodGet, "/auction/items?search=sunset", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)

	w = doJSON(router, http.MethodGet, "/auction/items?status=open", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)

	w = doJSON(router, http.MethodGet, "/auction/items?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = doJSON(router, http.MethodGet, "/auction/items?sort=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetBidsByBidder(t *testing.T) {
	_, router := newTestServer(t, ServerConfig{})
	first := createItem(t, router, openItemBody("One"))
	second := createItem(t, router, openItemBody("Two"))

	for _, id := range []string{first.ID, second.ID} {
		w := doJSON(router, http.MethodPost, fmt.Sprintf("/auction/item/%s/bids", id), map[string]any{
			"amount":        "250",
			"bidderName":    "dave",
			"bidderContact": "dave@example.com",
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w := doJSON(router, http.MethodGet, "/auction/bids?contact=dave@example.com", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp BidListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)

	w = doJSON(router, http.MethodGet, "/auction/bids", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestItemEventsPreconditions(t *testing.T) {
	_, router := newTestServer(t, ServerConfig{})

	notOpen := openItemBody("Distant")
	notOpen["openTime"] = time.Now().Add(time.Hour)
	notOpen["closeTime"] = time.Now().Add(2 * time.Hour)
	future := createItem(t, router, notOpen)

	ended := openItemBody("Done")
	ended["openTime"] = time.Now().Add(-2 * time.Hour)
	ended["closeTime"] = time.Now().Add(-time.Hour)
	past := createItem(t, router, ended)

	w := doJSON(router, http.MethodGet, fmt.Sprintf("/auction/item/%s/events", future.ID), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(router, http.MethodGet, fmt.Sprintf("/auction/item/%s/events", past.ID), nil)
	assert.Equal(t, http.StatusGone, w.Code)

	w = doJSON(router, http.MethodGet, "/auction/item/00000000-0000-0000-0000-000000000000/events", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// The join check must not count as a page view.
	getW := doJSON(router, http.MethodGet, "/auction/item/"+future.ID, nil)
	var resp GetItemResponse
	require.NoError(t, json.Unmarshal(getW.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.Item.Views)
}
