package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"loft/internal/api"
	"loft/internal/availability"
	"loft/internal/config"
	"loft/internal/database"
	"loft/internal/domain"
	"loft/internal/events"
	"loft/internal/google"
	"loft/internal/logging"
	"loft/internal/metrics"
	"loft/internal/models"
	"loft/internal/pricing"
	"loft/internal/repository"
	"loft/internal/service"
	"loft/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	properties, err := loadProperties(&logger)
	if err != nil {
		return err
	}

	db, err := initDatabase(cfg, properties, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, but starting API application. Check your config.")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := initRedis(ctx, cfg, &logger)
	defer func() {
		if err := repository.Close(redisClient); err != nil {
			logger.Warn().Err(err).Msg("close redis")
		}
	}()

	locker, purger, err := initLocker(cfg, db, redisClient, &logger)
	if err != nil {
		return err
	}

	eventBus := events.NewEventBus(&logger)
	audit := service.NewAuditRecorder(db, &logger)
	eventBus.Subscribe(audit.Handle, events.ReservationEvents...)
	eventBus.Subscribe(audit.Handle, events.BlockEvents...)

	sinks, cleanup := initSinks(ctx, cfg, &logger)
	defer cleanup()
	if cfg.Outbox.Enabled && len(sinks) > 0 {
		outbox := initOutbox(cfg, db, sinks, redisClient, &logger)
		eventBus.Subscribe(outbox.HandleEvent, events.ReservationEvents...)
		go outbox.Start(ctx)
	}

	if purger != nil {
		go worker.NewLockSweeper(purger, cfg.Locks.SweepInterval, &logger).Start(ctx)
	}
	go database.NewBackupService(db, cfg.Database.Path, cfg.Backup, &logger).Start(ctx)

	reservations := service.NewReservationService(
		db,
		availability.NewChecker(db, &logger),
		locker,
		pricing.NewCalculator(cfg.Pricing.ServiceFeeBP, cfg.Pricing.Currency),
		eventBus,
		service.Options{
			MaxAdvanceDays: cfg.Booking.MaxAdvanceDays,
			MaxNights:      cfg.Booking.MaxNights,
			MaxGuests:      cfg.Booking.MaxGuests,
			LockBackend:    cfg.Locks.Backend,
		},
		&logger,
	)

	auth := api.NewAuthenticator(&cfg.API)

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(&cfg.API, reservations, auth, &logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
	}

	httpServer := api.NewHTTPServer(&cfg.API, reservations, db, auth, &logger)

	startMetrics(ctx, cfg, &logger)

	return startServers(ctx, grpcServer, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, *logging.Component(baseLogger, "api-main"), closer, nil
}

func loadProperties(logger *zerolog.Logger) ([]*models.Property, error) {
	propertiesPath := os.Getenv("PROPERTIES_PATH")
	if propertiesPath == "" {
		propertiesPath = "configs/properties.yaml"
	}
	data, err := os.ReadFile(propertiesPath)
	if err != nil {
		logger.Error().Err(err).Str("properties_path", propertiesPath).Msg("read properties")
		return nil, err
	}

	var catalog struct {
		Properties []*models.Property `yaml:"properties"`
	}
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		logger.Error().Err(err).Str("properties_path", propertiesPath).Msg("parse properties")
		return nil, err
	}
	if len(catalog.Properties) == 0 {
		return nil, fmt.Errorf("no properties in %s", propertiesPath)
	}

	return catalog.Properties, nil
}

func initDatabase(cfg *config.Config, properties []*models.Property, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.SyncProperties(ctx, properties); err != nil {
		db.Close()
		logger.Error().Err(err).Msg("sync properties")
		return nil, err
	}

	logger.Info().Int("properties", len(properties)).Msg("property catalog synced")
	return db, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, redisClient); err != nil {
		// failover tolerates redis coming up later, the redis backend does not
		if cfg.Locks.Backend == "failover" {
			logger.Warn().Err(err).Msg("redis connection failed, locks fall back to sqlite")
			return redisClient
		}
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = repository.Close(redisClient)
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// initLocker picks the reservation lock backend. The purger, when not nil,
// is swept for expired locks in the background.
func initLocker(
	cfg *config.Config,
	db *database.DB,
	redisClient *redis.Client,
	logger *zerolog.Logger,
) (domain.Locker, domain.LockPurger, error) {
	ttl := cfg.Locks.TTL

	switch cfg.Locks.Backend {
	case "memory":
		mem := repository.NewMemoryLockRepository(ttl)
		return mem, mem, nil
	case "redis":
		if redisClient == nil {
			return nil, nil, errors.New("locks.backend=redis but redis is unavailable")
		}
		return repository.NewRedisLockRepository(redisClient, ttl, cfg.Locks.KeyPrefix), nil, nil
	case "failover":
		fallback := database.NewLockRepository(db, ttl)
		if redisClient == nil {
			logger.Warn().Msg("redis is not configured, using sqlite locks only")
			return fallback, fallback, nil
		}
		primary := repository.NewRedisLockRepository(redisClient, ttl, cfg.Locks.KeyPrefix)
		return repository.NewFailoverLockRepository(primary, fallback, logger), fallback, nil
	default:
		locks := database.NewLockRepository(db, ttl)
		return locks, locks, nil
	}
}

// initSinks builds the outbox delivery targets. A sink that fails to
// initialize is skipped, reservations never depend on it.
func initSinks(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) ([]domain.Sink, func()) {
	var (
		sinks   []domain.Sink
		closers []io.Closer
	)

	if cfg.Kafka.Enabled {
		kafkaSink := events.NewKafkaSink(cfg.Kafka)
		sinks = append(sinks, kafkaSink)
		closers = append(closers, kafkaSink)
		logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("kafka sink enabled")
	}

	if cfg.Telegram.Enabled {
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			logger.Warn().Err(err).Msg("telegram init failed, continuing without notifications")
		} else {
			bot.Debug = cfg.Telegram.Debug
			sinks = append(sinks, service.NewTelegramService(bot, cfg.Telegram.ManagersChat))
			logger.Info().Str("bot", bot.Self.UserName).Msg("telegram sink enabled")
		}
	}

	if sheets := initGoogleSheets(ctx, cfg, logger); sheets != nil {
		sinks = append(sinks, sheets)
	}

	return sinks, func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Warn().Err(err).Msg("close sink")
			}
		}
	}
}

func initGoogleSheets(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *google.SheetsService {
	if !cfg.Google.Enabled {
		return nil
	}

	sheetsService, err := google.NewSheetsService(
		ctx,
		cfg.Google.GoogleCredentialsFile,
		cfg.Google.BookingSpreadSheetID,
		cfg.Google.SheetName,
	)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets")
		return nil
	}

	initCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := sheetsService.TestConnection(initCtx); err != nil {
		logger.Warn().Err(err).Msg("google sheets unreachable, continuing without sheets")
		return nil
	}
	if err := sheetsService.EnsureHeader(initCtx); err != nil {
		logger.Warn().Err(err).Msg("google sheets header check failed")
	}
	if err := sheetsService.WarmUpCache(initCtx); err != nil {
		logger.Warn().Err(err).Msg("google sheets cache warm-up failed")
	}

	logger.Info().Msg("google sheets connected")
	return sheetsService
}

func initOutbox(
	cfg *config.Config,
	db *database.DB,
	sinks []domain.Sink,
	redisClient *redis.Client,
	logger *zerolog.Logger,
) *worker.OutboxWorker {
	retry := worker.RetryPolicyFromConfig(cfg.Outbox)
	if !cfg.Outbox.UseRedisQueue {
		redisClient = nil
	}
	return worker.NewOutboxWorker(db, sinks, redisClient, retry, cfg.Outbox.PollInterval, logger)
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().
		Bool("grpc", grpcServer != nil).
		Int("http_port", cfg.API.HTTP.Port).
		Str("lock_backend", cfg.Locks.Backend).
		Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
