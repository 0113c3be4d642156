package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"sipbridge/relay/internal/auth"
)

func main() {
	relayFlag := &cli.StringFlag{Name: "relay", Value: "http://localhost:3000", Sources: cli.EnvVars("RELAY_URL"), Usage: "relay base url"}

	cmd := &cli.Command{
		Name:  "callsim",
		Usage: "drive a running relay through the phone-side call flow",
		Commands: []*cli.Command{
			{
				Name:  "room",
				Usage: "open a room and print its session id and pin",
				Flags: []cli.Flag{relayFlag, &cli.StringFlag{Name: "room", Value: "callsim-" + time.Now().Format("150405")}},
				Action: func(ctx context.Context, c *cli.Command) error {
					sim := newSim(c.String("relay"), os.Stdout)
					_, err := sim.Room(ctx, c.String("room"))
					return err
				},
			},
			{
				Name:  "call",
				Usage: "answer, enter the pin and optionally hang up",
				Flags: []cli.Flag{
					relayFlag,
					&cli.StringFlag{Name: "pin", Required: true},
					&cli.StringFlag{Name: "from", Value: "15550009999", Usage: "caller msisdn"},
					&cli.BoolFlag{Name: "hangup", Usage: "post a completed call status after joining"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					sim := newSim(c.String("relay"), os.Stdout)
					return sim.Call(ctx, Call{
						UUID:             uuid.NewString(),
						ConversationUUID: "CON-" + uuid.NewString(),
						From:             c.String("from"),
						Pin:              c.String("pin"),
						Hangup:           c.Bool("hangup"),
					})
				},
			},
			{
				Name:  "token",
				Usage: "mint a viewer token for a room's event feed",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "room", Required: true},
					&cli.StringFlag{Name: "secret", Required: true, Sources: cli.EnvVars("FEED_TOKEN_SECRET")},
					&cli.DurationFlag{Name: "ttl", Value: time.Hour},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					exp := time.Now().Add(c.Duration("ttl")).Unix()
					fmt.Println(auth.GenerateViewerToken(c.String("secret"), c.String("room"), exp))
					return nil
				},
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
