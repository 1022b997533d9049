package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vinayprograms/chatkit/bot"
	"github.com/vinayprograms/chatkit/content"
	"github.com/vinayprograms/chatkit/correlation"
	"github.com/vinayprograms/chatkit/features"
	"github.com/vinayprograms/chatkit/logging"
	"github.com/vinayprograms/chatkit/metrics"
	"github.com/vinayprograms/chatkit/platform"
	"github.com/vinayprograms/chatkit/quotes"
	"github.com/vinayprograms/chatkit/ratelimit"
	"github.com/vinayprograms/chatkit/recency"
	"github.com/vinayprograms/chatkit/rotation"
	"github.com/vinayprograms/chatkit/shutdown"
	"github.com/vinayprograms/chatkit/telemetry"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot, reading updates from stdin and writing calls to stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return a.serve(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

// serve wires every feature and blocks until input ends or a signal arrives.
func (a *app) serve(ctx context.Context, in io.Reader, out io.Writer) (err error) {
	cfg := a.cfg
	logger := a.logger

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	sets, err := cfg.StickerSets()
	if err != nil {
		return err
	}

	shutdownCfg := shutdown.DefaultConfig()
	shutdownCfg.Logger = logger
	coord := shutdown.NewCoordinator(shutdownCfg)
	// Components opened before a failure are released on the way out.
	defer func() {
		if err != nil {
			_ = coord.ShutdownWithTimeout(0)
		}
	}()

	if cfg.Telemetry.Endpoint != "" {
		provider, err := telemetry.InitProvider(ctx, telemetry.ProviderConfig{
			ServiceVersion: version,
			Endpoint:       cfg.Telemetry.Endpoint,
			Protocol:       cfg.Telemetry.Protocol,
			Insecure:       cfg.Telemetry.Insecure,
			Debug:          logging.ParseLevel(cfg.Log.Level) == logging.LevelDebug,
			SampleRatio:    cfg.Telemetry.SampleRatio,
			Attributes: map[string]string{
				"state_backend":  cfg.State.Backend,
				"images_backend": cfg.Images.Backend,
				"image_pool":     cfg.Images.Pool,
			},
		})
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		coord.RegisterFunc("telemetry", shutdown.PhaseFlush, provider.Shutdown)
	}

	reg := metrics.NewRegistry()
	observer, err := metrics.NewPrometheusObserver(cfg.Metrics.Namespace, reg)
	if err != nil {
		return err
	}
	if cfg.Metrics.Addr != "" {
		srv := metrics.NewServer(cfg.Metrics.Addr, reg)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", map[string]any{"addr": cfg.Metrics.Addr, "error": err.Error()})
			}
		}()
		coord.RegisterFunc("metrics", shutdown.PhaseBackground, srv.Shutdown)
	}

	store, closeState, err := a.openState(ctx)
	if err != nil {
		return err
	}
	coord.RegisterWithPhase("state", shutdown.CloserFunc(closeState), shutdown.PhaseStorage)

	stdioCfg := platform.DefaultStdioConfig()
	stdioCfg.Logger = logger
	source := platform.NewStdio(in, out, stdioCfg)
	client := platform.NewClient(platform.NewThrottled(source, cfg.Platform.SendRate, cfg.Platform.SendBurst))

	limiter, err := ratelimit.NewWindowLimiter(store, ratelimit.WindowConfig{
		Prefix:  "ratelimit.retroq",
		MaxUses: cfg.Quotes.MaxUses,
		Window:  cfg.Quotes.Window.Duration,
	}, ratelimit.WithLogger(logger), ratelimit.WithObserver(observer), ratelimit.WithName("retroq"))
	if err != nil {
		return err
	}
	recent, err := recency.New(cfg.Quotes.Recent)
	if err != nil {
		return err
	}
	queue, err := rotation.New(store, cfg.Images.Pool, rotation.WithLogger(logger), rotation.WithObserver(observer))
	if err != nil {
		return err
	}

	cleanup := features.NewCleanupTable(client, logger, correlation.WithObserver[features.Cleanup](observer))
	pendingDeletes := features.NewPendingDeleteTable(client, logger, correlation.WithObserver[features.PendingDelete](observer))
	infoQueries := correlation.New(
		correlation.WithName[features.InfoQuery]("info_query"),
		correlation.WithLogger[features.InfoQuery](logger),
		correlation.WithObserver[features.InfoQuery](observer),
	)

	quoteStore, err := a.openQuotes()
	if err != nil {
		return err
	}
	textQuotes, err := content.NewFileStore[quotes.TextQuote](content.FileStoreConfig{Path: cfg.Quotes.TextFile})
	if err != nil {
		return err
	}
	images, closeImages, err := a.openImages()
	if err != nil {
		return err
	}
	coord.RegisterWithPhase("images", shutdown.CloserFunc(closeImages), shutdown.PhaseStorage)

	stickerDB, err := content.OpenBolt(cfg.Stickers.DB)
	if err != nil {
		return err
	}
	coord.RegisterWithPhase("stickers", shutdown.CloserFunc(stickerDB.Close), shutdown.PhaseStorage)
	stickerQuotes, err := content.NewBoltStore[quotes.StickerQuote](stickerDB, "stickers")
	if err != nil {
		return err
	}

	quoteCfg := features.DefaultQuoteConfig()
	quoteCfg.Command = cfg.Quotes.Command
	quoteCfg.SelfDestruct = cfg.Quotes.SelfDestruct.Duration
	quoteCfg.Location = loc
	quote, err := features.NewQuoteFeature(features.QuoteDeps{
		Client:  client,
		Quotes:  quoteStore,
		Limiter: limiter,
		Recent:  recent,
		Cleanup: cleanup,
		Logger:  logger,
	}, quoteCfg)
	if err != nil {
		return err
	}

	imageCfg := features.DefaultImageConfig()
	imageCfg.Trigger = cfg.Images.Trigger
	imageCfg.ConfirmTTL = cfg.Images.ConfirmTTL.Duration
	image, err := features.NewImageFeature(features.ImageDeps{
		Client:  client,
		Images:  images,
		Queue:   queue,
		Pending: pendingDeletes,
		Logger:  logger,
	}, imageCfg)
	if err != nil {
		return err
	}

	sticker, err := features.NewStickerDeleteFeature(features.StickerDeleteDeps{
		Client:     client,
		TextQuotes: textQuotes,
		QuoteDB:    quotes.StoreDB{Store: stickerQuotes},
		Sets:       features.StickerSets(sets),
		Logger:     logger,
	}, cfg.Stickers.Command)
	if err != nil {
		return err
	}

	var handlers []features.Handler
	var onJoin features.JoinFunc
	if cfg.Bot.AdminID != 0 {
		info, err := features.NewInfoQueryFeature(client, infoQueries, features.InfoQueryConfig{
			AdminID:   cfg.Bot.AdminID,
			Responder: cfg.Bot.ResponderUsername,
			Timeout:   cfg.InfoQuery.Timeout.Duration,
		}, logger)
		if err != nil {
			return err
		}
		handlers = append(handlers, info)
		onJoin = func(member platform.User, chat platform.Chat) {
			info.Track(member.ID, member.Username, chat.Title)
		}
	}
	handlers = append(handlers,
		features.NewGreetingFeature(client, onJoin, logger),
		sticker,
		quote,
		image,
	)

	dispatcher, err := bot.New(bot.Config{
		Workers:        cfg.Bot.Workers,
		DedupSize:      cfg.Bot.DedupSize,
		HandlerTimeout: cfg.Bot.HandlerTimeout.Duration,
	}, handlers, bot.WithLogger(logger), bot.WithObserver(observer))
	if err != nil {
		return err
	}

	// Sweepers outlive intake so pending notices are still deleted while
	// in-flight updates drain.
	sweepCtx, stopSweepers := context.WithCancel(context.WithoutCancel(ctx))
	var sweepers errgroup.Group
	sweep := cfg.Bot.SweepInterval.Duration
	sweepers.Go(func() error { return ignoreCanceled(cleanup.Run(sweepCtx, sweep)) })
	sweepers.Go(func() error { return ignoreCanceled(pendingDeletes.Run(sweepCtx, sweep)) })
	sweepers.Go(func() error { return ignoreCanceled(infoQueries.Run(sweepCtx, sweep)) })
	coord.RegisterFunc("sweepers", shutdown.PhaseBackground, func(context.Context) error {
		stopSweepers()
		err := sweepers.Wait()
		cleanup.Wait()
		pendingDeletes.Wait()
		infoQueries.Wait()
		return err
	})

	intakeCtx, stopIntake := context.WithCancel(ctx)
	defer stopIntake()
	intake, intakeCtx := errgroup.WithContext(intakeCtx)
	intake.Go(func() error { return ignoreCanceled(source.Run(intakeCtx)) })
	intake.Go(func() error { return ignoreCanceled(dispatcher.Run(intakeCtx, source.Updates())) })

	coord.RegisterFunc("intake", shutdown.PhaseIntake, func(context.Context) error {
		stopIntake()
		return source.Close()
	})
	coord.RegisterFunc("dispatcher", shutdown.PhaseDispatch, dispatcher.Drain)

	logger.Info("chatkit serving", map[string]any{
		"version":  version,
		"state":    cfg.State.Backend,
		"images":   cfg.Images.Backend,
		"handlers": len(handlers),
	})

	coord.HandleSignals()
	intakeErr := make(chan error, 1)
	go func() {
		intakeErr <- intake.Wait()
		coord.Trigger()
	}()

	<-coord.Done()
	stopIntake()
	return errors.Join(<-intakeErr, coord.Err())
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
