// main.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"
	"golang.org/x/crypto/bcrypt"

	"driftpad/internal/config"
)

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.Level(),
	}))
	slog.SetDefault(log)

	app := NewApp(cfg, log)
	if err := app.Startup(ctx); err != nil {
		app.Shutdown()
		return fmt.Errorf("startup: %w", err)
	}
	defer app.Shutdown()

	return app.Run(ctx)
}

// hashToken prints the bcrypt hash of a token for the auth.token_hash
// config field.
func hashToken(ctx context.Context, cmd *cli.Command) error {
	token := cmd.Args().First()
	if token == "" {
		return fmt.Errorf("usage: driftpad hash-token <token>")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash token: %w", err)
	}

	fmt.Println(string(hash))
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:   "driftpad",
		Usage:  "Workspace server with a checkpointed file tree, chat-driven edits, and per-file review",
		Action: run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "built-in defaults",
				Sources:     cli.EnvVars("DRIFTPAD_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "hash-token",
				Usage:     "Print the bcrypt hash of an access token",
				ArgsUsage: "<token>",
				Action:    hashToken,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
