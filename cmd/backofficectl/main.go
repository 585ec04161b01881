// Command backofficectl offers operational helpers for the back office.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "backofficectl",
		Usage: "Back-office operations",
		Commands: []*cli.Command{
			{
				Name:  "policy",
				Usage: "Inspect the navigation policy",
				Commands: []*cli.Command{
					{
						Name:  "validate",
						Usage: "Load and validate a policy file",
						Flags: []cli.Flag{policyFlag()},
						Action: func(ctx context.Context, cmd *cli.Command) error {
							return runPolicyValidate(os.Stdout, cmd.String("file"))
						},
					},
					{
						Name:  "routes",
						Usage: "List the paths a role is authorized for",
						Flags: []cli.Flag{
							policyFlag(),
							&cli.StringFlag{
								Name:     "role",
								Aliases:  []string{"r"},
								Required: true,
								Usage:    "Role name (ADMIN, AGENCIA, PROMOTOR, ASISTENTE, CLIENTE)",
							},
						},
						Action: func(ctx context.Context, cmd *cli.Command) error {
							return runPolicyRoutes(os.Stdout, cmd.String("file"), cmd.String("role"))
						},
					},
				},
			},
			{
				Name:  "sessions",
				Usage: "Manage identity sessions",
				Commands: []*cli.Command{
					{
						Name:  "sweep",
						Usage: "Enqueue an expired-session sweep",
						Flags: []cli.Flag{redisFlag()},
						Action: func(ctx context.Context, cmd *cli.Command) error {
							return runSessionSweep(ctx, os.Stdout, cmd.String("redis"))
						},
					},
				},
			},
			{
				Name:  "jobs",
				Usage: "Inspect background jobs",
				Commands: []*cli.Command{
					{
						Name:  "status",
						Usage: "Print default queue counters",
						Flags: []cli.Flag{redisFlag()},
						Action: func(ctx context.Context, cmd *cli.Command) error {
							return runJobsStatus(os.Stdout, cmd.String("redis"))
						},
					},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("backofficectl", slog.Any("error", err))
		os.Exit(1)
	}
}

func policyFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "file",
		Aliases: []string{"f"},
		Sources: cli.EnvVars("POLICY_FILE"),
		Usage:   "Policy YAML file (defaults to the embedded policy)",
	}
}

func redisFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "redis",
		Value:   "127.0.0.1:6379",
		Sources: cli.EnvVars("REDIS_ADDR"),
		Usage:   "Redis address",
	}
}
