package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"gavel/adapters/archive"
	"gavel/adapters/auction"
	"gavel/adapters/ratelimit"
	"gavel/adapters/sse"
	"gavel/adapters/stream"
)

type ServerImpl struct {
	engine      *auction.Engine
	limiter     *ratelimit.Limiter
	sseManager  sse.IConnectionManager[auction.Event]
	relay       *stream.Relay[auction.Event]
	archive     *archive.Archive
	redisClient *redis.Client
	htmlChecker *bluemonday.Policy

	config ServerConfig
}

func NewServer(config ServerConfig) (*ServerImpl, error) {
	const op = "NewServer"

	// Auction defaults.
	minIncrement := decimal.NewFromInt(1)
	if config.Auction.MinIncrement != "" {
		var err error
		minIncrement, err = decimal.NewFromString(config.Auction.MinIncrement)
		if err != nil || !minIncrement.IsPositive() {
			return nil, fmt.Errorf("[%s] Invalid minimum increment %q", op, config.Auction.MinIncrement)
		}
	}
	endingSoon := config.Auction.EndingSoonThreshold
	if endingSoon <= 0 {
		endingSoon = 5 * time.Minute
	}
	window := config.RateLimit.Window
	if window <= 0 {
		window = time.Minute
	}
	limit := config.RateLimit.Limit
	if limit <= 0 {
		limit = 5
	}

	// Archive database, optional.
	var db *gorm.DB
	var archiveWorker *archive.Archive
	if config.DB.Host != "" {
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s",
			config.DB.User, config.DB.Password, config.DB.Host, config.DB.Port, config.DB.Database, config.DB.Schema)
		var err error
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			TranslateError: true,
			NamingStrategy: schema.NamingStrategy{
				TablePrefix: config.DB.Schema + ".",
			},
		})
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to connect to database, err=%w", op, err)
		}
		archiveWorker, err = archive.New(db, archive.WithArchiveLogger(slog.Default()))
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create archive worker, err=%w", op, err)
		}
		if err := archiveWorker.Migrate(); err != nil {
			return nil, fmt.Errorf("[%s] Fail to migrate archive schema, err=%w", op, err)
		}
	}

	// Event relay, optional. With Redis configured every instance
	// publishes to the stream and reads everything back; without it the
	// broadcaster loops events back locally.
	var redisClient *redis.Client
	var relay *stream.Relay[auction.Event]
	if config.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		var err error
		relay, err = stream.NewRelay[auction.Event](
			redisClient,
			config.Redis.StreamKeys.Events,
			stream.WithRelayLogger(slog.Default()),
		)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create stream relay, err=%w", op, err)
		}
	}

	managerOpts := []sse.ManagerOption[auction.Event]{
		sse.WithLogger[auction.Event](slog.Default()),
	}
	if relay != nil {
		managerOpts = append(managerOpts, sse.WithSource[auction.Event](relay.Subscribe()))
	}
	sseManager, err := sse.NewConnectionManager[auction.Event](managerOpts...)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create sse connection manager, err=%w", op, err)
	}

	var notifier auction.Notifier
	if relay != nil {
		notifier = relayNotifier{relay: relay}
	} else {
		notifier = localNotifier{manager: sseManager}
	}

	engineOpts := []auction.EngineOption{
		auction.WithNotifier(notifier),
		auction.WithMinIncrement(minIncrement),
		auction.WithEndingSoonThreshold(endingSoon),
		auction.WithEngineLogger(slog.Default()),
	}
	if archiveWorker != nil {
		engineOpts = append(engineOpts, auction.WithRecorder(archiveWorker))
	}

	return &ServerImpl{
		engine:      auction.NewEngine(engineOpts...),
		limiter:     ratelimit.NewLimiter(window, limit, ratelimit.WithLimiterLogger(slog.Default())),
		sseManager:  sseManager,
		relay:       relay,
		archive:     archiveWorker,
		redisClient: redisClient,
		htmlChecker: bluemonday.UGCPolicy(),
		config:      config,
	}, nil
}

// Start seeds the engine from the archive and launches the background
// workers. Call before serving requests.
func (impl *ServerImpl) Start() error {
	const op = "Start"

	if impl.archive != nil {
		restored, err := impl.archive.Load(context.Background())
		if err != nil {
			return fmt.Errorf("[%s] Fail to load archived items, err=%w", op, err)
		}
		for _, r := range restored {
			impl.engine.Restore(r.Item, r.Bids)
		}
		slog.Info("Seeded engine from archive", slog.Int("items", len(restored)))
		impl.archive.Start()
	}
	if impl.relay != nil {
		impl.relay.Start()
	}
	impl.sseManager.Start()
	impl.limiter.Start()
	return nil
}

func (impl *ServerImpl) Close() {
	impl.limiter.Close()
	if impl.relay != nil {
		impl.relay.Close()
	}
	impl.sseManager.Done()
	if impl.archive != nil {
		impl.archive.Close()
	}
	if impl.redisClient != nil {
		impl.redisClient.Close()
	}
}

func (impl *ServerImpl) RegisterRoutes(router *gin.Engine) {
	router.GET("/ping", impl.Ping)
	group := router.Group("/auction")
	group.POST("/item", impl.PostAuctionItem)
	group.GET("/items", impl.GetAuctionItems)
	group.GET("/item/:itemID", impl.GetAuctionItem)
	group.POST("/item/:itemID/bids", impl.PostAuctionItemBids)
	group.GET("/item/:itemID/bids", impl.GetAuctionItemBids)
	group.GET("/bids", impl.GetBidsByBidder)
	group.GET("/item/:itemID/events", impl.GetAuctionItemEvents)
	group.GET("/events", impl.GetGlobalEvents)
}

// Liveness echo, also used by clients to measure latency.
// (GET /ping)
func (impl *ServerImpl) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
		"time":    time.Now(),
		"echo":    c.Query("echo"),
	})
}

// Add a new auction item
// (POST /auction/item)
func (impl *ServerImpl) PostAuctionItem(c *gin.Context) {
	var req CreateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid request body"})
		return
	}

	startingPrice, ok := parseAmount(req.StartingPrice)
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid starting price"})
		return
	}
	var reservePrice *decimal.Decimal
	if req.ReservePrice != nil {
		reserve, ok := parseAmount(*req.ReservePrice)
		if !ok {
			c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid reserve price"})
			return
		}
		reservePrice = &reserve
	}

	// Defaults, description sanitized before it reaches any client.
	if req.Description == nil {
		req.Description = lo.ToPtr("")
	}
	req.Description = lo.ToPtr(impl.htmlChecker.Sanitize(*req.Description))
	if req.OpenTime == nil {
		req.OpenTime = lo.ToPtr(time.Now())
	}

	snap, err := impl.engine.CreateItem(auction.CreateItemParams{
		Name:          strings.TrimSpace(req.Name),
		Description:   *req.Description,
		ImageURL:      lo.FromPtr(req.ImageURL),
		Category:      lo.FromPtr(req.Category),
		Featured:      lo.FromPtr(req.Featured),
		StartingPrice: startingPrice,
		ReservePrice:  reservePrice,
		OpenTime:      *req.OpenTime,
		CloseTime:     req.CloseTime,
	})
	if errors.Is(err, auction.ErrInvalidItem) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "Internal error"})
		return
	}
	c.Header("Location", snap.ID.String())
	c.JSON(http.StatusCreated, toItemView(snap))
}

// List auction items
// (GET /auction/items)
func (impl *ServerImpl) GetAuctionItems(c *gin.Context) {
	var params ListItemsParams
	if err := c.ShouldBindQuery(&params); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid query parameters"})
		return
	}

	filter := auction.Filter{
		Category: params.Category,
		Search:   params.Search,
		Desc:     params.Order == "desc",
		Page:     params.Page,
		PageSize: params.PageSize,
	}
	if params.Status != "" {
		status := auction.Status(params.Status)
		switch status {
		case auction.StatusNotOpen, auction.StatusOpen, auction.StatusClosed:
			filter.Status = status
		default:
			c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid status filter"})
			return
		}
	}
	if params.PriceMin != "" {
		min, err := decimal.NewFromString(params.PriceMin)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid priceMin"})
			return
		}
		filter.PriceMin = &min
	}
	if params.PriceMax != "" {
		max, err := decimal.NewFromString(params.PriceMax)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid priceMax"})
			return
		}
		filter.PriceMax = &max
	}
	if params.Sort != "" {
		switch params.Sort {
		case "closeTime":
			filter.Sort = auction.SortCloseTime
		case "price":
			filter.Sort = auction.SortPrice
		case "bidCount":
			filter.Sort = auction.SortBidCount
		case "newest":
			filter.Sort = auction.SortNewest
		default:
			c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid sort key"})
			return
		}
	}

	items, total := impl.engine.List(filter)
	c.JSON(http.StatusOK, ListItemsResponse{
		Count: len(items),
		Total: total,
		Items: toItemViews(items),
	})
}

// Get auction item details
// (GET /auction/item/{itemID})
func (impl *ServerImpl) GetAuctionItem(c *gin.Context) {
	itemID, err := uuid.Parse(c.Param("itemID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid item id"})
		return
	}
	snap, ok := impl.engine.Get(itemID)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "Item not found"})
		return
	}
	c.JSON(http.StatusOK, GetItemResponse{
		Item:    toItemView(snap),
		Related: toItemViews(impl.engine.Related(itemID, 4)),
	})
}

// Place a bid on an auction item
// (POST /auction/item/{itemID}/bids)
func (impl *ServerImpl) PostAuctionItemBids(c *gin.Context) {
	// Rate limit per origin before anything reaches the engine.
	origin := c.ClientIP()
	now := time.Now()
	if !impl.limiter.Allow(origin, now) {
		retryAfter := impl.limiter.RetryAfter(origin, now)
		c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
		c.JSON(http.StatusTooManyRequests, PlaceBidResponse{
			Accepted: false,
			Reason:   string(auction.ReasonRateLimited),
			Message:  "Too many bids from this origin, slow down",
		})
		return
	}

	itemID, err := uuid.Parse(c.Param("itemID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, PlaceBidResponse{
			Accepted: false,
			Reason:   string(auction.ReasonInvalid),
			Message:  "Invalid item id",
		})
		return
	}
	var req PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, PlaceBidResponse{
			Accepted: false,
			Reason:   string(auction.ReasonInvalid),
			Message:  "Invalid request body",
		})
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		c.JSON(http.StatusBadRequest, PlaceBidResponse{
			Accepted: false,
			Reason:   string(auction.ReasonInvalid),
			Message:  "Amount must be a positive number with at most two decimal places",
		})
		return
	}
	bidderName := strings.TrimSpace(req.BidderName)
	if bidderName == "" {
		c.JSON(http.StatusBadRequest, PlaceBidResponse{
			Accepted: false,
			Reason:   string(auction.ReasonInvalid),
			Message:  "Bidder name must not be empty",
		})
		return
	}
	source := req.Source
	if source == "" {
		source = "api"
	}

	out := impl.engine.Submit(itemID, amount, auction.Bidder{
		Name:    bidderName,
		Contact: strings.TrimSpace(req.BidderContact),
		Source:  source,
	})
	if !out.Accepted {
		c.JSON(rejectionStatus(out), rejectionResponse(out))
		return
	}

	slog.Info("Bid accepted",
		slog.String("itemID", itemID.String()),
		slog.String("bidder", bidderName),
		slog.String("amount", amount.String()))
	bidView := toBidView(*out.Bid)
	itemView := toItemView(*out.Item)
	c.JSON(http.StatusOK, PlaceBidResponse{
		Accepted: true,
		Bid:      &bidView,
		Item:     &itemView,
	})
}

// Get bid history for an item
// (GET /auction/item/{itemID}/bids)
func (impl *ServerImpl) GetAuctionItemBids(c *gin.Context) {
	itemID, err := uuid.Parse(c.Param("itemID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid item id"})
		return
	}
	var params PageParams
	if err := c.ShouldBindQuery(&params); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid query parameters"})
		return
	}
	bids, total, found := impl.engine.History(itemID, params.Page, params.PageSize)
	if !found {
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "Item not found"})
		return
	}
	c.JSON(http.StatusOK, BidListResponse{
		Count: len(bids),
		Total: total,
		Bids:  toBidViews(bids),
	})
}

// Get bids placed by one bidder across items
// (GET /auction/bids)
func (impl *ServerImpl) GetBidsByBidder(c *gin.Context) {
	contact := strings.TrimSpace(c.Query("contact"))
	if contact == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Missing contact parameter"})
		return
	}
	var params PageParams
	if err := c.ShouldBindQuery(&params); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid query parameters"})
		return
	}
	bids, total := impl.engine.ByBidder(contact, params.Page, params.PageSize)
	c.JSON(http.StatusOK, BidListResponse{
		Count: len(bids),
		Total: total,
		Bids:  toBidViews(bids),
	})
}

// rejectionStatus maps an admission outcome to an HTTP status.
func rejectionStatus(out auction.Outcome) int {
	switch out.Reason {
	case auction.ReasonNotFound:
		return http.StatusNotFound
	case auction.ReasonInvalid:
		return http.StatusBadRequest
	case auction.ReasonNotOpen:
		if out.Status == auction.StatusNotOpen {
			return http.StatusForbidden
		}
		return http.StatusGone
	case auction.ReasonTooLow, auction.ReasonReserveNotMet:
		return http.StatusUnprocessableEntity
	case auction.ReasonConflict:
		return http.StatusConflict
	case auction.ReasonRateLimited:
		return http.StatusTooManyRequests
	case auction.ReasonUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func rejectionResponse(out auction.Outcome) PlaceBidResponse {
	resp := PlaceBidResponse{
		Accepted: false,
		Reason:   string(out.Reason),
		Status:   string(out.Status),
	}
	switch out.Reason {
	case auction.ReasonNotFound:
		resp.Message = "Item not found"
	case auction.ReasonNotOpen:
		if out.Status == auction.StatusNotOpen {
			resp.Message = "Auction has not started yet"
		} else {
			resp.Message = "Auction has ended"
		}
	case auction.ReasonTooLow:
		resp.Message = "Bid must exceed the current price"
	case auction.ReasonReserveNotMet:
		resp.Message = "Bid is below the reserve price"
	case auction.ReasonConflict:
		resp.Message = "A concurrent bid moved the price, re-evaluate against the new floor"
	}
	if !out.CurrentPrice.IsZero() {
		resp.CurrentPrice = lo.ToPtr(out.CurrentPrice)
	}
	if !out.Floor.IsZero() {
		resp.MinNextBid = lo.ToPtr(out.Floor)
	}
	return resp
}

// localNotifier feeds the in-process broadcaster directly.
type localNotifier struct {
	manager sse.IConnectionManager[auction.Event]
}

func (n localNotifier) Publish(topic string, event auction.Event) error {
	return n.manager.Publish(topic, event)
}

// relayNotifier routes events through the Redis stream; the local
// broadcaster gets them back through its source feed, along with the
// events of every other instance.
type relayNotifier struct {
	relay *stream.Relay[auction.Event]
}

func (n relayNotifier) Publish(topic string, event auction.Event) error {
	return n.relay.Publish(topic, event)
}
