package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tradefunnel/cmd/atrprobe"
	"tradefunnel/cmd/executor"
	"tradefunnel/cmd/operatortoken"
	"tradefunnel/src/session"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

var Version string

func SetupLogger() {
	levelStr := strings.ToLower(os.Getenv("LOG_LEVEL"))

	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.DebugLevel
	}

	logrus.SetLevel(level)
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("no .env file, using the process environment")
	}
	SetupLogger()
	defer handlePanic()

	app := cli.NewApp()
	app.Name = "tradefunnel"
	app.Usage = "Intraday funnel, sizing and execution engine"
	app.Version = Version

	app.Commands = []cli.Command{
		executorCMD,
		sessionCMD,
		operatorTokenCMD,
		atrCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	executorCMD = cli.Command{
		Name:        "executor",
		Usage:       "run the trading loop",
		Action:      executorAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Runs the scan, funnel, sizing, execution and monitoring loop with the status API`,
	}
	sessionCMD = cli.Command{
		Name:      "session",
		Usage:     "print the current market session phase",
		Action:    sessionAction,
		ArgsUsage: "",
		Flags: []cli.Flag{
			cli.BoolFlag{Name: "watch", Usage: "keep running and log every phase change"},
		},
		Description: `Classifies the current New York session phase with the SESSION_* settings`,
	}
	operatorTokenCMD = cli.Command{
		Name:      "operator-token",
		Usage:     "hash a bearer token for OPERATOR_TOKEN_HASH",
		Action:    operatorTokenAction,
		ArgsUsage: "",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "token", Usage: "token to hash, read from stdin when omitted"},
		},
		Description: `Prints the bcrypt hash that enables the halt and resume endpoints`,
	}
	atrCMD = cli.Command{
		Name:        "atr",
		Usage:       "print the ATR for ATR_SYMBOLS",
		Action:      atrAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Fetches one-minute klines and prints the average true range per symbol`,
	}
)

func executorAction(_ *cli.Context) error {
	logrus.Info("Starting executor CMD")

	executorStrategy := &executor.Executor{}
	err := executorStrategy.Start()
	if err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}

func sessionAction(c *cli.Context) error {
	cfg := session.GetConfig()
	now := time.Now()
	fmt.Printf("%s\t%s\n", session.TradingDay(now), session.Classify(now, cfg))
	if !c.Bool("watch") {
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	for evt := range session.NewClock(cfg, logrus.WithField("cmd", "session")).Watch(ctx) {
		logrus.WithField("event", evt).Info("session event")
	}
	return nil
}

func operatorTokenAction(c *cli.Context) error {
	cmd := &operatortoken.OperatorToken{In: os.Stdin, Out: os.Stdout}
	return cmd.Start(c.String("token"))
}

func atrAction(_ *cli.Context) error {
	logrus.Info("Starting ATR CMD")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	probe := &atrprobe.ATRProbe{Log: logrus.WithField("cmd", "atr")}
	if err := probe.Start(ctx); err != nil {
		logrus.WithError(err).Error("ATR probe failed")
		return err
	}
	return nil
}

func handlePanic() {
	if r := recover(); r != nil {
		logrus.WithError(fmt.Errorf("%+v", r)).Error("tradefunnel panic")
		//nolint
		time.Sleep(time.Second)
		os.Exit(2)
	}
}
