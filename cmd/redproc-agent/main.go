package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/redproc/redproc/agent"
)

func main() {
	app := &cli.App{
		Name:  "redproc-agent",
		Usage: "run child processes on behalf of remote clients, streaming their stdio",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen-addr",
				Usage: "The address for the HTTP server to listen on.",
				Value: "127.0.0.1:8090",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Minimum log level. One of [debug,info,warn,error].",
				Value: "info",
			},
		},
		Action: func(ctx *cli.Context) error {
			listenAddr := ctx.String("listen-addr")
			levelStr := ctx.String("log-level")

			level, err := zapcore.ParseLevel(levelStr)
			if err != nil {
				return fmt.Errorf("parsing log level %q: %w", levelStr, err)
			}

			logger, err := zap.NewDevelopment()
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			defer logger.Sync()

			a, err := agent.New(
				agent.WithLogger(logger),
				agent.WithLogLevel(level),
				agent.WithListenAddr(listenAddr),
			)
			if err != nil {
				return fmt.Errorf("constructing agent: %w", err)
			}
			return a.Run()
		},
	}
	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}
