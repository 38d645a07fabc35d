package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"gavel/adapters/auction"
)

// earlyJoinWindow is how long before open time the item event room
// accepts subscribers, so the audience is in place for the first bid.
const earlyJoinWindow = 5 * time.Minute

// keepAliveInterval bounds the silence on an SSE connection; proxies
// and browsers drop streams that go quiet for too long.
const keepAliveInterval = 30 * time.Second

// Track auction item events
// (GET /auction/item/{itemID}/events)
func (impl *ServerImpl) GetAuctionItemEvents(c *gin.Context) {
	itemID, err := uuid.Parse(c.Param("itemID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid item id"})
		return
	}
	snap, ok := impl.engine.Peek(itemID)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "Item not found"})
		return
	}
	now := time.Now()
	if now.Before(snap.OpenTime.Add(-earlyJoinWindow)) {
		c.JSON(http.StatusForbidden, ErrorResponse{Message: "Auction has not started"})
		return
	}
	if snap.Status == auction.StatusClosed {
		c.JSON(http.StatusGone, ErrorResponse{Message: "Auction has ended"})
		return
	}
	impl.streamEvents(c, itemID.String())
}

// Track accepted bids across all items
// (GET /auction/events)
func (impl *ServerImpl) GetGlobalEvents(c *gin.Context) {
	impl.streamEvents(c, auction.TopicGlobal)
}

func (impl *ServerImpl) streamEvents(c *gin.Context, topic string) {
	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Transfer-Encoding", "chunked")
	ch, err := impl.sseManager.Subscribe(topic)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Message: "Event stream unavailable"})
		return
	}
	defer impl.sseManager.Unsubscribe(topic, ch)
	for {
		select {
		case <-w.CloseNotify():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent(event.Type, event)
			w.Flush()
		// Periodic blank line so browsers and proxies keep the
		// connection alive through quiet stretches.
		case <-time.After(keepAliveInterval):
			w.WriteString("\n\n")
			w.Flush()
		}
	}
}
