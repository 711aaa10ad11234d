package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/aegis-relief/relay-go/cache"
	"github.com/aegis-relief/relay-go/hub"
	"github.com/aegis-relief/relay-go/ledger"
	"github.com/aegis-relief/relay-go/models"
	"github.com/aegis-relief/relay-go/relay"
	"github.com/aegis-relief/relay-go/store"
)

type Config struct {
	PostgresDSN      string
	RedisURL         string
	RPCEndpoint      string
	TokenContract    string
	TransfersChannel string
	ListenAddr       string
	AllowedOrigin    string
	TrustedProxies   []string
	InitSchema       bool
	RateLimitMax     int
	RateLimitWindow  time.Duration
	Debug            bool
}

func parseFlags() Config {
	cfg := Config{}

	flag.StringVar(&cfg.PostgresDSN, "pg", "", "PostgreSQL connection DSN")
	flag.StringVar(&cfg.RedisURL, "redis", "", "Redis connection URL")
	flag.StringVar(&cfg.RPCEndpoint, "rpc", "", "Ledger JSON-RPC endpoint")
	flag.StringVar(&cfg.TokenContract, "token", "", "Relief token contract address")
	flag.StringVar(&cfg.TransfersChannel, "transfers-channel", "token_transfers", "Redis channel for ledger transfer events")
	flag.StringVar(&cfg.ListenAddr, "listen", ":5000", "HTTP server listen address")
	flag.StringVar(&cfg.AllowedOrigin, "origin", "http://localhost:3000", "Allowed CORS origin")
	var trustedProxies string
	flag.StringVar(&trustedProxies, "trusted-proxies", "", "Comma-separated proxy IPs allowed to set X-Forwarded-For")
	flag.BoolVar(&cfg.InitSchema, "init-schema", false, "Create database tables on startup")
	flag.IntVar(&cfg.RateLimitMax, "rate-limit", 100, "Max API requests per client IP per window")
	flag.DurationVar(&cfg.RateLimitWindow, "rate-limit-window", 15*time.Minute, "Rate limit window")
	flag.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")

	flag.Parse()

	if trustedProxies != "" {
		for _, p := range strings.Split(trustedProxies, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.TrustedProxies = append(cfg.TrustedProxies, p)
			}
		}
	}
	return cfg
}

// newFiberApp builds the app with the shared server config. X-Forwarded-For
// is honored only for requests arriving from a listed proxy; otherwise the
// socket address is the client identity the rate limiter keys on.
func newFiberApp(cfg Config) *fiber.App {
	fc := fiber.Config{
		AppName:      "Aegis Relay",
		ReadTimeout:  5 * time.Second,
		ErrorHandler: errorHandler,
	}
	if len(cfg.TrustedProxies) > 0 {
		fc.ProxyHeader = fiber.HeaderXForwardedFor
		fc.EnableTrustedProxyCheck = true
		fc.TrustedProxies = cfg.TrustedProxies
	}
	return fiber.New(fc)
}

func main() {
	cfg := parseFlags()

	log.SetOutput(os.Stdout)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	if cfg.PostgresDSN == "" {
		log.Fatal("PostgreSQL DSN is required. Use -pg flag")
	}
	if cfg.RedisURL == "" {
		log.Fatal("Redis connection string is required. Use -redis flag")
	}
	if cfg.RPCEndpoint == "" {
		log.Fatal("Ledger RPC endpoint is required. Use -rpc flag")
	}
	if cfg.TokenContract == "" {
		log.Fatal("Relief token contract address is required. Use -token flag")
	}
	if !models.IsValidAddress(cfg.TokenContract) {
		log.Fatalf("Invalid relief token contract address: %s", cfg.TokenContract)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.WithError(err).Fatal("Failed to parse Redis URL")
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.WithError(err).Fatal("Failed to connect to Redis")
	}
	log.Info("Connected to Redis")

	db, err := store.NewDB(ctx, cfg.PostgresDSN, 0, 100)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to PostgreSQL")
	}
	defer db.Close()
	log.Info("Connected to PostgreSQL")

	if cfg.InitSchema {
		if err := db.EnsureSchema(ctx); err != nil {
			log.WithError(err).Fatal("Failed to create schema")
		}
		log.Info("Schema ready")
	}

	caches := cache.NewManager(redisClient)
	rpcClient := ledger.NewRPCClient(cfg.RPCEndpoint, cfg.TokenContract)
	stream := ledger.NewTransferStream(redisClient, cfg.TransfersChannel)

	h := hub.New()
	router := relay.NewRouter()
	pipeline := relay.NewPipeline(db, h, router, caches.Balances)

	// Single multiplexed upstream subscription; one consumer goroutine keeps
	// per-address delivery order.
	go stream.Run(ctx, func(ev models.TransferEvent) {
		pipeline.Handle(ctx, ev)
	})

	api := &API{
		DB:     db,
		Caches: caches,
		Ledger: rpcClient,
		Hub:    h,
		Stream: stream,
	}

	app := newFiberApp(cfg)

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowedOrigin,
		AllowMethods: "GET,POST",
	}))

	// The persistent-connection paths live outside the rate-limited group:
	// admission control protects the request/response surface only.
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(WebSocketHandler(h, router, stream)))
	app.Get("/events/sse", SSEHandler(h, router, stream))

	apiGroup := app.Group("/api", limiter.New(limiter.Config{
		Max:        cfg.RateLimitMax,
		Expiration: cfg.RateLimitWindow,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(models.RequestError{
				Code:    fiber.StatusTooManyRequests,
				Message: "too many requests, retry later",
			})
		},
	}))

	apiGroup.Get("/health", api.GetHealth)
	apiGroup.Get("/user/:address", api.GetUser)
	apiGroup.Get("/balances/:address", api.GetBalances)
	apiGroup.Get("/transactions/:address", api.GetTransactions)
	apiGroup.Get("/donations", api.GetDonations)
	apiGroup.Get("/disasters", api.GetDisasters)
	apiGroup.Get("/stats", api.GetStats)
	apiGroup.Post("/webhook/disaster", api.PostDisasterWebhook)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("Shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	log.Infof("Starting server on %s", cfg.ListenAddr)
	if err := app.Listen(cfg.ListenAddr); err != nil {
		log.Fatal(err)
	}
}

// errorHandler translates typed request errors into JSON bodies; anything
// else is an internal error with a generic body.
func errorHandler(c *fiber.Ctx, err error) error {
	if reqErr, ok := err.(models.RequestError); ok {
		if reqErr.Code != fiber.StatusNotFound {
			log.WithFields(log.Fields{
				"code": reqErr.Code,
				"path": c.Path(),
				"ip":   c.IP(),
			}).Warn(reqErr.Message)
		}
		return c.Status(reqErr.Code).JSON(reqErr)
	}
	if fiberErr, ok := err.(*fiber.Error); ok {
		return c.Status(fiberErr.Code).JSON(models.RequestError{
			Code:    fiberErr.Code,
			Message: fiberErr.Message,
		})
	}
	log.WithFields(log.Fields{"path": c.Path(), "ip": c.IP()}).WithError(err).Error("request failed")
	return c.Status(fiber.StatusInternalServerError).JSON(models.RequestError{
		Code:    fiber.StatusInternalServerError,
		Message: "internal server error",
	})
}
