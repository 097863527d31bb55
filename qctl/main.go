// Command qctl sends to, receives from and manages asyncq queues.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "qctl",
		Usage: "Send to and receive from asyncq queues",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "backend",
				Aliases: []string{"b"},
				Usage:   "Queue backend (bolt, redis)",
				EnvVars: []string{"QCTL_BACKEND"},
				Value:   backendBolt,
			},
			&cli.StringFlag{
				Name:    "bolt-path",
				Usage:   "Database file for the bolt backend",
				EnvVars: []string{"QCTL_BOLT_PATH"},
				Value:   "asyncq.db",
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "Redis server address",
				EnvVars: []string{"QCTL_REDIS_ADDR"},
				Value:   "localhost:6379",
			},
			&cli.StringFlag{
				Name:    "redis-prefix",
				Usage:   "Key prefix for the redis backend",
				EnvVars: []string{"QCTL_REDIS_PREFIX"},
				Value:   "asyncq",
			},
			&cli.StringFlag{
				Name:    "queue",
				Aliases: []string{"q"},
				Usage:   `Queue identity, e.g. ".\private$\clientTest"`,
				EnvVars: []string{"QCTL_QUEUE"},
				Value:   "private$/clientTest",
			},
			&cli.BoolFlag{
				Name:    "create",
				Usage:   "Create the queue if it does not exist",
				EnvVars: []string{"QCTL_CREATE"},
				Value:   true,
			},
			&cli.StringFlag{
				Name:    "codec",
				Usage:   "Payload codec for typed messages (json, xml, json+snappy, json+lz4)",
				EnvVars: []string{"QCTL_CODEC"},
				Value:   "json",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable verbose logging",
				EnvVars: []string{"QCTL_VERBOSE"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "send",
				Usage:     "Send the arguments as one text message",
				ArgsUsage: "TEXT...",
				Action:    sendCommand,
			},
			{
				Name:  "send-person",
				Usage: "Send a typed Person message",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "name",
						Usage: "Person name",
						Value: "Kalle",
					},
					&cli.DurationFlag{
						Name:  "ttl",
						Usage: "Discard the message if it is not received in time (0 keeps it forever)",
					},
				},
				Action: sendPersonCommand,
			},
			{
				Name:  "listen",
				Usage: "Print every message until interrupted",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Number of concurrent receivers",
						Value: 1,
					},
				},
				Action: listenCommand,
			},
			{
				Name:  "probe",
				Usage: "Report whether the queue holds a message",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "peek",
						Usage: "Peek instead of receiving; the message stays in the queue",
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "Give up waiting for a message after this long",
						Value: 5 * time.Second,
					},
				},
				Action: probeCommand,
			},
			{
				Name:   "delete",
				Usage:  "Delete the queue",
				Action: deleteCommand,
			},
			{
				Name:   "interactive",
				Usage:  "Read single-letter commands from stdin (r receive, c cancel, s send, p person, x exit)",
				Action: interactiveCommand,
			},
			{
				Name:  "serve",
				Usage: "Accept messages over HTTP, consume them, and expose metrics",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "addr",
						Usage:   "HTTP listen address",
						EnvVars: []string{"QCTL_SERVE_ADDR"},
						Value:   ":8080",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Number of concurrent receivers",
						Value: 4,
					},
				},
				Action: serveCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
