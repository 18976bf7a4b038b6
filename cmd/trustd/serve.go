package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	trust "github.com/goliatone/go-trust"
	"github.com/goliatone/go-trust/activitymap"
	"github.com/goliatone/go-trust/mail"
	"github.com/goliatone/go-trust/middleware/csrf"
	"github.com/goliatone/go-trust/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
)

const shutdownTimeout = 10 * time.Second

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP service",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "migrate",
				Usage: "apply pending migrations before serving",
				Value: true,
			},
		},
		Action: serve,
	}
}

func serve(c *cli.Context) error {
	cfg := configFrom(c)
	logger := cfg.Log.NewLogger("trustd")

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDB(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	repos := repository.NewManager(db)
	repos.MustValidate()

	if c.Bool("migrate") {
		group, err := repos.Migrate(ctx)
		if err != nil {
			return err
		}
		logger.Info("migrations applied", "group", group.String())
	}

	rdb, err := openRedis(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer rdb.Close()

	signer, err := trust.NewTokenSigner([]byte(cfg.SigningSecret))
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := trust.NewMetrics(registry)
	activity := activityLogger(logger.Named("activity"))

	mailer, err := mail.NewTemplateMailer(mail.NewLogTransport(logger.Named("mail")))
	if err != nil {
		return err
	}

	sessions := trust.NewRedisSessionStore(rdb, trust.WithSessionKeyPrefix(cfg.Session.KeyPrefix))
	codes := trust.NewRedisCodeStore(rdb)
	hasher := trust.NewHasher(cfg.Auth.HashWorkers)

	auth := trust.NewCredentialAuthenticator(repos.Users(), sessions, cfg.Session.TTL).
		WithLogger(logger.Named("auth")).
		WithActivitySink(activity).
		WithMetrics(metrics).
		WithHasher(hasher).
		WithTwoFactor(codes, mailer, cfg.Auth.TwoFactorTTL, cfg.Auth.CodeLength)

	issuer := trust.NewInvitationIssuer(repos.Invitations(), signer, mailer, cfg.Invitation.BaseURL).
		WithLogger(logger.Named("invitations")).
		WithActivitySink(activity).
		WithMetrics(metrics)

	guard := trust.NewOwnershipGuard().
		WithLogger(logger.Named("ownership")).
		WithActivitySink(activity).
		WithMetrics(metrics)

	register := trust.NewRegisterUserHandler(issuer, repos.Users(), hasher).
		WithLogger(logger.Named("register")).
		WithActivitySink(activity)

	resetInit := trust.NewInitializePasswordResetHandler(repos.Users(), codes, mailer).
		WithCode(cfg.Auth.ResetCodeTTL, cfg.Auth.CodeLength).
		WithLogger(logger.Named("reset")).
		WithActivitySink(activity)

	resetFinalize := trust.NewFinalizePasswordResetHandler(repos.Users(), repos.Users(), codes, hasher).
		WithLogger(logger.Named("reset")).
		WithActivitySink(activity)

	controller := trust.NewTrustController(auth, issuer, guard, sessions, cfg.CookieConfig(),
		trust.WithControllerLogger(logger.Named("http")),
		trust.WithControllerObservers(activity, metrics),
		trust.WithRegistration(register),
		trust.WithPasswordReset(resetInit, resetFinalize),
		trust.WithInvitationExpireDays(cfg.Invitation.ExpireDays),
	)

	app := fiber.New(fiber.Config{
		AppName:               "trustd",
		DisableStartupMessage: true,
		ErrorHandler:          trust.NewErrorHandler(logger.Named("http")),
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	app.Get("/healthz", func(c *fiber.Ctx) error {
		if err := rdb.Ping(c.UserContext()).Err(); err != nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "redis unavailable")
		}
		if err := db.PingContext(c.UserContext()); err != nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "database unavailable")
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	protector := csrf.New(csrf.Config{
		Signer:       signer,
		CookieName:   cfg.Session.CookieName,
		Skip:         trust.SkipPaths(controller.PublicPaths()...),
		ErrorHandler: controller.ErrorHandler,
	})
	app.Use(protector.Handler())
	protector.RegisterRoutes(app)

	controller.RegisterRoutes(app)
	controller.RegisterResourceAccess(app, "/events", repos.EventOwners())
	controller.RegisterResourceAccess(app, "/issues", repos.IssueOwners())

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTP.Addr, "version", version)
		errc <- app.Listen(cfg.HTTP.Addr)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	return app.ShutdownWithTimeout(shutdownTimeout)
}

func activityLogger(logger trust.Logger) trust.ActivitySink {
	return activitymap.Sink(func(n activitymap.Normalized) error {
		logger.Info(n.Verb,
			"actor", n.ActorID,
			"object_type", n.ObjectType,
			"object", n.ObjectID,
			"metadata", n.Metadata,
		)
		return nil
	})
}
