package executor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradefunnel/src/auth"
	"tradefunnel/src/connectors"
	"tradefunnel/src/database"
	"tradefunnel/src/events"
	"tradefunnel/src/executors"
	"tradefunnel/src/funnel"
	"tradefunnel/src/model"
	"tradefunnel/src/monitor"
	"tradefunnel/src/position"
	"tradefunnel/src/repository"
	"tradefunnel/src/risk"
	"tradefunnel/src/server"
	"tradefunnel/src/session"
	"tradefunnel/src/sizing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Executor struct{}

// Settings gathers every component's configuration.
type Settings struct {
	Executor   Config
	Loop       executors.Config
	Connectors connectors.Config
	Database   database.Config
	Risk       risk.Config
	Funnel     funnel.Config
	Sizing     sizing.Config
	Monitor    monitor.Config
	Session    session.Config
	Server     server.Config
	Auth       auth.Config
}

func LoadSettings() Settings {
	return Settings{
		Executor:   *GetConfig(),
		Loop:       executors.GetConfig(),
		Connectors: connectors.GetConfig(),
		Database:   database.GetConfig(),
		Risk:       risk.GetConfig(),
		Funnel:     funnel.GetConfig(),
		Sizing:     sizing.GetConfig(),
		Monitor:    monitor.GetConfig(),
		Session:    session.GetConfig(),
		Server:     *server.GetConfig(),
		Auth:       auth.GetConfig(),
	}
}

// App is the fully wired service.
type App struct {
	Sink         *events.AsyncSink
	Ledger       *risk.Ledger
	Monitor      *monitor.Monitor
	Orchestrator *executors.Orchestrator
	Clock        *session.Clock
	Feed         *connectors.TickFeed
	Handler      http.Handler

	settings Settings
	log      *logrus.Entry
}

var (
	initMainDB = database.InitMainDB
	newGateway = buildGateway
)

type gatewayBundle struct {
	gateway connectors.ExecutionGateway
	account connectors.AccountSource
	onTick  connectors.TickHandler
}

func buildGateway(s Settings, log *logrus.Entry) (gatewayBundle, error) {
	switch s.Loop.Gateway {
	case executors.GatewayPaper:
		equity := decimal.NewFromFloat(s.Executor.PaperEquity)
		paper := connectors.NewPaperGateway(s.Connectors, model.Equity{Equity: equity, BuyingPower: equity}, log)
		return gatewayBundle{gateway: paper, account: paper, onTick: paper.OnTick}, nil
	case executors.GatewayREST:
		rest := connectors.NewRESTGateway(s.Connectors, log)
		return gatewayBundle{gateway: rest, account: rest}, nil
	default:
		return gatewayBundle{}, fmt.Errorf("unknown gateway %q", s.Loop.Gateway)
	}
}

// Build wires every component from s. It connects to the database when enabled.
func Build(s Settings, log *logrus.Entry) (*App, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	handlers := []events.Handler{events.LogHandler(log)}
	var eventRepo *repository.EventRepository
	if s.Database.EnableDB {
		if err := initMainDB(s.Database); err != nil {
			return nil, fmt.Errorf("connect main database: %w", err)
		}
		eventRepo = repository.NewEventRepository()
		handlers = append(handlers,
			eventRepo.Handler(),
			repository.NewExceptionRepository().Handler(s.Loop.ServiceName),
		)
	}
	sink := events.NewAsyncSink(log, s.Executor.EventBuffer, handlers...)

	bundle, err := newGateway(s, log)
	if err != nil {
		return nil, err
	}

	ledger := risk.NewLedger(s.Risk, sink, log)
	router := executors.NewRouter(s.Loop, bundle.gateway, ledger, sink, log)
	mon := monitor.New(s.Monitor, position.NewStore(), ledger, router, sink, log)

	provider := connectors.NewSignalProvider(s.Connectors, log)
	var scorer funnel.Scorer
	if s.Executor.ExternalScoring {
		scorer = provider
	}

	deps := executors.Deps{
		Source:  provider,
		Funnel:  funnel.New(s.Funnel, scorer, ledger, mon, log),
		Sizer:   sizing.NewEngine(s.Sizing, ledger, log),
		Router:  router,
		Account: bundle.account,
		Monitor: mon,
		Ledger:  ledger,
		Sink:    sink,
	}
	if s.Executor.KlineVolatility {
		deps.Volatility = connectors.NewKlineVolatility(s.Connectors, log)
	}

	app := &App{
		Sink:     sink,
		Ledger:   ledger,
		Monitor:  mon,
		Clock:    session.NewClock(s.Session, log),
		settings: s,
		log:      log.WithField("component", "executor"),
	}

	if s.Executor.TickFeedEnabled {
		tickHandlers := []connectors.TickHandler{mon.OnTick}
		if bundle.onTick != nil {
			tickHandlers = append(tickHandlers, bundle.onTick)
		}
		app.Feed = connectors.NewTickFeed(s.Connectors, log, tickHandlers...)
		deps.Feed = app.Feed
	}

	app.Orchestrator = executors.NewOrchestrator(s.Loop, deps, log)

	if s.Server.Enabled {
		serverDeps := server.Deps{
			Ledger:            ledger,
			Positions:         mon,
			Orchestrator:      app.Orchestrator,
			OperatorTokenHash: s.Auth.OperatorTokenHash,
		}
		if eventRepo != nil {
			serverDeps.Events = eventRepo
		}
		app.Handler = server.NewRouter(serverDeps)
	}
	return app, nil
}

// Run drives the service until ctx is done, then waits for the monitors and the
// event sink to drain.
func (a *App) Run(ctx context.Context) error {
	// the sink outlives ctx so events emitted while shutting down are still delivered
	sinkCtx, stopSink := context.WithCancel(context.WithoutCancel(ctx))
	defer stopSink()
	a.Sink.Start(sinkCtx)
	a.Monitor.Start(ctx)

	group, gctx := errgroup.WithContext(ctx)
	if a.Feed != nil {
		group.Go(func() error { return a.Feed.Run(gctx) })
	}
	if a.Handler != nil {
		group.Go(func() error { return server.StartServer(gctx, a.settings.Server.Port, a.Handler) })
	}
	group.Go(func() error {
		ticker := time.NewTicker(a.settings.Loop.LoopPeriod)
		defer ticker.Stop()
		return a.Orchestrator.Run(gctx, ticker.C, a.Clock.Watch(gctx))
	})

	a.log.WithFields(logrus.Fields{
		"gateway":     a.settings.Loop.Gateway,
		"loop_period": a.settings.Loop.LoopPeriod.String(),
		"status_api":  a.Handler != nil,
	}).Info("executor running")

	err := group.Wait()
	a.Monitor.Wait()
	stopSink()
	<-a.Sink.Done()
	return err
}

func (t *Executor) Start() error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	app, err := Build(LoadSettings(), logrus.WithField("cmd", "executor"))
	if err != nil {
		logrus.WithError(err).Error("Failed to build executor")
		return err
	}

	if err := app.Run(ctx); err != nil {
		logrus.WithError(err).Error("Executor stopped with error")
		return err
	}
	logrus.Info("Executor stopped")
	return nil
}
