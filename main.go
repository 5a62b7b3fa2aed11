package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog/log"

	"dm-service/config"
	"dm-service/controller"
	"dm-service/database"
	"dm-service/event"
	"dm-service/event/listener"
	"dm-service/identity"
	"dm-service/messenger"
	"dm-service/middleware"
	"dm-service/router"
	"dm-service/utils"
)

func main() {
	logger := utils.SetupLogger(config.Config("LOG_LEVEL"), config.Bool("LOG_PRETTY"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.PostgresConnect()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres")
	}
	if err := database.RedisConnect(ctx); err != nil {
		log.Fatal().Err(err).Msg("redis")
	}
	defer database.RedisClose()

	enforcer, err := database.Casbin(db)
	if err != nil {
		log.Fatal().Err(err).Msg("casbin")
	}

	users := identity.NewCache(
		identity.NewStore(db),
		database.Redis[database.RedisCache],
		config.Duration("PROFILE_CACHE_TTL_MS", 5*time.Minute),
		logger,
	)

	opts := []messenger.Option{
		messenger.WithMaxContentLength(config.Int("MESSAGE_MAX_LENGTH", messenger.DefaultMaxContentLength)),
	}

	if config.Config("EVENT_MODE") != "DISABLE" {
		rabbit, err := event.RabbitMQConnect([]string{
			event.QueueMessenger,
			event.QueueBackoffice,
		}, logger)
		if err != nil {
			log.Fatal().Err(err).Msg("rabbitmq")
		}
		defer rabbit.Close()

		backoffice := make(chan event.EventChannelData)
		if err := rabbit.Subscribe(ctx, []event.RabbitMQSubscribeListener{
			{Queue: event.QueueBackoffice, Channel: backoffice},
		}); err != nil {
			log.Fatal().Err(err).Msg("rabbitmq subscribe")
		}
		go listener.Backoffice(ctx, backoffice, users, logger)

		opts = append(opts, messenger.WithPublisher(rabbit))
	} else {
		log.Warn().Msg("event publishing disabled")
	}

	service := messenger.NewService(db, users, logger, opts...)

	rest := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		StrictRouting:         true,
		AppName:               "dm-service",
	})
	rest.Use(recover.New())
	rest.Use(cors.New())

	router.Rest(rest, router.Handlers{
		Auth:       controller.NewAuth(db, controller.NewRedisRefreshStore(database.Redis[database.RedisTokens]), enforcer),
		User:       controller.NewUser(db, users),
		Messenger:  controller.NewMessenger(service),
		RBAC:       middleware.RBAC(enforcer),
		Limiter:    middleware.NewRedisCounter(database.Redis[database.RedisCache]),
		RateLimit:  config.Int("POLL_RATE_LIMIT", 150),
		RateWindow: config.Duration("POLL_RATE_WINDOW_MS", time.Minute),
		AccessLog:  true,
	})

	go func() {
		addr := fmt.Sprintf(":%s", config.Config("SERVER_PORT"))
		log.Info().Str("addr", addr).Msg("listening")
		if err := rest.Listen(addr); err != nil {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	exit := make(chan struct{})
	SignalC := make(chan os.Signal, 1)

	signal.Notify(SignalC, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		for s := range SignalC {
			switch s {
			case syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
				close(exit)
				return
			}
		}
	}()

	<-exit
	log.Info().Msg("shutting down")
	cancel()
	if err := rest.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}
