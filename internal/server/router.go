package server

import (
	"time"

	"table-bidding/internal/ratelimit"
	"table-bidding/internal/realtime"
	"table-bidding/internal/session"
	handler "table-bidding/services/bidding/handler"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Dependencies are the collaborators the HTTP layer is built from
type Dependencies struct {
	Bidding        handler.BiddingServiceInterface
	Auth           handler.Authenticator
	Sessions       *session.Manager
	Hub            *realtime.Hub
	Redis          *redis.Client
	RateLimit      ratelimit.Config
	RequestTimeout time.Duration
}

// SetupRouter configures all Gin routes for the application
func SetupRouter(deps Dependencies) *gin.Engine {
	router := gin.New() // New router without default middleware for full control over middleware and logging

	router.Use(gin.Recovery())          // recover from panics
	router.Use(RequestLoggerMiddleware) // custom request logging
	router.Use(session.Resolve(deps.Sessions))

	biddingHandler := handler.NewBiddingHandler(deps.Bidding)
	sessionHandler := handler.NewSessionHandler(deps.Auth, deps.Sessions)
	pushHandler := handler.NewPushHandler(deps.Hub)

	bidLimit := deps.RateLimit
	bidLimit.Prefix = withSuffix(bidLimit.Prefix, "bids")
	loginLimit := deps.RateLimit
	loginLimit.Prefix = withSuffix(loginLimit.Prefix, "login")

	api := router.Group("")
	api.Use(Timeout(deps.RequestTimeout))
	{
		api.GET("/tables", biddingHandler.ListTablesHandler)
		api.GET("/highest-bidder", biddingHandler.HighestBidderHandler)
		api.GET("/event-status", biddingHandler.EventStatusHandler)
	}

	bids := api.Group("/bids")
	{
		bids.GET("", biddingHandler.RecentBidsHandler)
		bids.POST("", ratelimit.TokenBucket(bidLimit, deps.Redis), biddingHandler.PlaceBidHandler)
	}

	auth := api.Group("/auth")
	{
		auth.POST("/login", ratelimit.TokenBucket(loginLimit, deps.Redis), sessionHandler.LoginHandler)
		auth.POST("/spectator", sessionHandler.SpectatorHandler)
		auth.POST("/logout", sessionHandler.LogoutHandler)
		auth.GET("/session", sessionHandler.CurrentSessionHandler)
	}

	// long-lived, no request timeout
	if deps.Hub != nil {
		router.GET("/ws", pushHandler.ServeWSHandler)
	}
	router.GET("/health", pushHandler.HealthHandler)

	return router
}

func withSuffix(prefix, suffix string) string {
	if prefix == "" {
		prefix = "rl"
	}
	return prefix + ":" + suffix
}
