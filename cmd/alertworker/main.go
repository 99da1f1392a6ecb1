// Command alertworker runs one alert pipeline process: the queue
// consumer plus the notification stream endpoint. Any number of these
// processes may run side by side against the same redis and postgres;
// per-alert mutual exclusion is handled by the shared processing locks.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/finflow/alertpipe/migrations"
	"github.com/finflow/alertpipe/pkg/alertqueue"
	"github.com/finflow/alertpipe/pkg/config"
	"github.com/finflow/alertpipe/pkg/dedup"
	"github.com/finflow/alertpipe/pkg/eventbus"
	"github.com/finflow/alertpipe/pkg/httpserver"
	"github.com/finflow/alertpipe/pkg/logger"
	"github.com/finflow/alertpipe/pkg/mailer"
	"github.com/finflow/alertpipe/pkg/notification"
	"github.com/finflow/alertpipe/pkg/pg"
	"github.com/finflow/alertpipe/pkg/ratelimit"
	"github.com/finflow/alertpipe/pkg/realtime"
	redisconn "github.com/finflow/alertpipe/pkg/redis"
	"github.com/finflow/alertpipe/pkg/stream"
	"github.com/finflow/alertpipe/pkg/worker"
)

type appConfig struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"alertworker"`
	Environment string `env:"APP_ENV" envDefault:"development"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		appCfg    appConfig
		redisCfg  redisconn.Config
		pgCfg     pg.Config
		queueCfg  alertqueue.Config
		workerCfg worker.Config
		streamCfg stream.Config
		httpCfg   httpserver.Config
		mailCfg   mailer.Config
	)
	config.MustLoad(&appCfg)
	config.MustLoad(&redisCfg)
	config.MustLoad(&pgCfg)
	config.MustLoad(&queueCfg)
	config.MustLoad(&workerCfg)
	config.MustLoad(&streamCfg)
	config.MustLoad(&httpCfg)
	config.MustLoad(&mailCfg)

	var log *slog.Logger
	if appCfg.Environment == "production" {
		log = logger.New(logger.WithProduction(appCfg.ServiceName))
	} else {
		log = logger.New(logger.WithDevelopment(appCfg.ServiceName))
	}
	logger.SetAsDefault(log)

	redisClient, err := redisconn.Connect(ctx, redisCfg)
	if err != nil {
		log.Error("failed to connect to redis", logger.Error(err))
		os.Exit(1)
	}
	defer redisClient.Close()

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		log.Error("failed to connect to postgres", logger.Error(err))
		os.Exit(1)
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, migrations.FS, pgCfg, log); err != nil {
		log.Error("failed to apply migrations", logger.Error(err))
		os.Exit(1)
	}

	storage := notification.NewPostgresStorage(pool)
	fanout := realtime.NewRedisFanout(redisClient, realtime.WithRedisFanoutLogger(log))
	defer fanout.Close()

	// Embedded producers (invoice, payment goal and price alert modules
	// hosted in the same process) emit onto this bus; the projector turns
	// their events into durable notifications.
	bus := eventbus.New(eventbus.WithLogger(log))
	projector := notification.NewProjector(storage, fanout,
		notification.WithProjectorLogger(log))
	projector.Attach(bus)

	queue := alertqueue.NewRedisQueue(redisClient, queueCfg)
	gate := dedup.NewRedisGate(redisClient)
	limitStore := ratelimit.NewRedisStore(redisClient)

	var mail mailer.Sender
	if mailCfg.PostmarkServerToken != "" {
		mail = mailer.MustNewPostmarkSender(mailCfg)
	} else {
		mail = mailer.NewDevSender(log)
	}

	directory := newRedisDirectory(redisClient)

	w := worker.New(queue, gate, storage, workerCfg,
		worker.WithLogger(log),
		worker.WithFanout(fanout, ratelimit.NewToastLimiter(limitStore)),
		worker.WithMailer(mail, directory, ratelimit.NewEmailLimiter(limitStore)),
		worker.WithHealthcheck(redisconn.Healthcheck(redisClient)),
	)

	streamHandler := stream.NewHandler(fanout, directory, streamCfg, log)

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/healthz", healthHandler(redisconn.Healthcheck(redisClient), pg.Healthcheck(pool)))
	router.Mount("/", streamHandler.Routes())

	srv := httpserver.New(httpCfg, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(w.Run(gctx))
	g.Go(func() error {
		return srv.Run(gctx, router)
	})

	if err := g.Wait(); err != nil {
		log.Error("process exited with error", logger.Error(err))
		os.Exit(1)
	}
}
