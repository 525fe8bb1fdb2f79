package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fansqz/go-debug-adapter/config"
	"github.com/fansqz/go-debug-adapter/debugger"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// Version 版本号
const Version = "1.1.0"

func main() {
	app := &cli.App{
		Name:    "go-debug-adapter",
		Usage:   "Debug Adapter Protocol server for Go programs, backed by dlv",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "yaml config file",
			},
			&cli.StringFlag{
				Name:  "port",
				Usage: "TCP port to listen on",
			},
			&cli.BoolFlag{
				Name:  "stdio",
				Usage: "communicate with the client over stdin/stdout",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "write logs to the file instead of stderr",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "trace, debug, info, warn or error",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	// 命令行参数覆盖配置文件
	if c.IsSet("port") {
		cfg.Port = c.String("port")
	}
	if c.IsSet("stdio") {
		cfg.Stdio = c.Bool("stdio")
	}
	if c.IsSet("log-file") {
		cfg.LogFile = c.String("log-file")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}

	if err = SetupLogger(cfg.LogFile, cfg.LogLevel); err != nil {
		return err
	}
	defer CloseLogger()
	logrus.Infof("[main] go-debug-adapter %s, dlv %s, api version %d", Version, cfg.DlvToolPath, cfg.APIVersion)

	s := newServer(&debugger.Options{Config: cfg})
	if cfg.Stdio {
		return s.serveStdio()
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.listen(ctx, ":"+cfg.Port)
}
