package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"sipbridge/relay/internal/config"
	"sipbridge/relay/internal/vonage"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cmd := &cli.Command{
		Name:  "setup",
		Usage: "create the voice application, link the dial-in number and write the relay config",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "voice-api-key", Required: true, Sources: cli.EnvVars("VONAGE_API_KEY")},
			&cli.StringFlag{Name: "voice-api-secret", Required: true, Sources: cli.EnvVars("VONAGE_API_SECRET")},
			&cli.StringFlag{Name: "video-api-key", Required: true, Sources: cli.EnvVars("OPENTOK_API_KEY")},
			&cli.StringFlag{Name: "video-api-secret", Required: true, Sources: cli.EnvVars("OPENTOK_API_SECRET")},
			&cli.StringFlag{Name: "app-name", Required: true, Usage: "name of the voice application to create"},
			&cli.StringFlag{Name: "number", Usage: "account number to link as the dial-in number; omit to list numbers"},
			&cli.StringFlag{Name: "public-url", Value: "https://example.com", Usage: "initial webhook base, replaced on server start"},
			&cli.StringFlag{Name: "config", Value: "config.yaml", Usage: "config file to write"},
			&cli.StringFlag{Name: "dir", Value: ".", Usage: "directory for the private key and config"},
			&cli.StringFlag{Name: "api-url", Value: "https://api.nexmo.com", Sources: cli.EnvVars("VONAGE_API_URL")},
			&cli.StringFlag{Name: "rest-url", Value: "https://rest.nexmo.com", Sources: cli.EnvVars("VONAGE_REST_URL")},
		},
		Action: runSetup,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal().Err(err).Msg("setup failed")
	}
}

func runSetup(ctx context.Context, c *cli.Command) error {
	client := vonage.NewClient(vonage.Credentials{
		APIKey:    c.String("voice-api-key"),
		APISecret: c.String("voice-api-secret"),
	}, c.String("api-url"), c.String("rest-url"), 15*time.Second)

	numbers, err := client.ListNumbers(ctx)
	if err != nil {
		return fmt.Errorf("list numbers: %w", err)
	}
	fmt.Printf("Here are %d usable numbers from your account:\n", len(numbers))
	for _, n := range numbers {
		fmt.Printf("Number: %s Type: %s Features: %v\n", n.MSISDN, n.Type, n.Features)
	}
	if c.String("number") == "" {
		return errors.New("pass --number with one of the numbers above")
	}
	number, ok := findNumber(numbers, c.String("number"))
	if !ok {
		return fmt.Errorf("number %s is not in this account", c.String("number"))
	}

	base := c.String("public-url")
	app, err := client.CreateApplication(ctx, vonage.Application{
		Name:      c.String("app-name"),
		AnswerURL: base + "/nexmo-answer",
		EventURL:  base + "/nexmo-events",
	})
	if err != nil {
		return fmt.Errorf("create application: %w", err)
	}
	log.Info().Str("app_id", app.ID).Str("name", app.Name).Msg("application created")

	keyPath := filepath.Join(c.String("dir"), "private-"+app.ID+".key")
	if err := os.WriteFile(keyPath, []byte(app.PrivateKey), 0o600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	log.Info().Str("path", keyPath).Msg("private key written")

	if err := client.LinkNumber(ctx, number.Country, number.MSISDN, app.ID); err != nil {
		return fmt.Errorf("link number: %w", err)
	}
	log.Info().Str("number", number.MSISDN).Msg("number linked to application")

	var fc fileConfig
	fc.Video.APIKey = c.String("video-api-key")
	fc.Video.APISecret = c.String("video-api-secret")
	fc.Voice.APIKey = c.String("voice-api-key")
	fc.Voice.APISecret = c.String("voice-api-secret")
	fc.Voice.AppID = app.ID
	fc.Voice.AppName = app.Name
	fc.Voice.PrivateKeyPath = keyPath
	fc.Voice.ConferenceNumber = number.MSISDN
	fc.Voice.ConferenceCountry = number.Country

	path, err := writeConfig(filepath.Join(c.String("dir"), c.String("config")), app.Name, fc)
	if err != nil {
		return err
	}
	log.Info().Str("path", path).Msg("config written; start the server with CONFIG_FILE=" + path)
	return nil
}

func findNumber(numbers []vonage.Number, want string) (vonage.Number, bool) {
	want = config.NormalizeNumber(want, "")
	for _, n := range numbers {
		if n.MSISDN == want {
			return n, true
		}
	}
	return vonage.Number{}, false
}
