package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/agencyhub/backoffice/internal/access"
	"github.com/agencyhub/backoffice/internal/app"
	"github.com/agencyhub/backoffice/internal/navigation"
	"github.com/agencyhub/backoffice/jobs"
)

func runPolicyValidate(out io.Writer, file string) error {
	policy, err := navigation.LoadPolicy(file, access.DefaultCatalog())
	if err != nil {
		return err
	}
	source := file
	if source == "" {
		source = "embedded"
	}
	_, err = fmt.Fprintf(out, "policy %s ok: %d rules, %d menu entries\n", source, len(policy.Table.Rules()), countMenu(policy.Menu))
	return err
}

func runPolicyRoutes(out io.Writer, file, rawRole string) error {
	role, err := access.ParseRole(rawRole)
	if err != nil {
		return err
	}
	catalog := access.DefaultCatalog()
	policy, err := navigation.LoadPolicy(file, catalog)
	if err != nil {
		return err
	}
	grants := navigation.NewAuthorizer(policy.Table, catalog).Authorize(access.Actor{ID: "cli", Role: role})
	if _, err := fmt.Fprintf(out, "%s landing %s\n", role, role.Landing()); err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, strings.Join(grants.Paths(), "\n"))
	return err
}

func runSessionSweep(ctx context.Context, out io.Writer, redisAddr string) error {
	opt, err := app.RedisConnOpt(redisAddr)
	if err != nil {
		return err
	}
	client, err := jobs.NewClient(opt)
	if err != nil {
		return err
	}
	defer client.Close()
	info, err := client.EnqueueSessionSweep(ctx, "backofficectl")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "enqueued %s (%s) on %s\n", info.Type, info.ID, info.Queue)
	return err
}

func runJobsStatus(out io.Writer, redisAddr string) error {
	opt, err := app.RedisConnOpt(redisAddr)
	if err != nil {
		return err
	}
	inspector := asynq.NewInspector(opt)
	defer inspector.Close()
	info, err := inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "queue=%s pending=%d active=%d scheduled=%d retry=%d failed=%d\n",
		info.Queue, info.Pending, info.Active, info.Scheduled, info.Retry, info.Failed)
	return err
}

func countMenu(nodes []navigation.MenuNode) int {
	total := 0
	for _, n := range nodes {
		total += 1 + countMenu(n.Children)
	}
	return total
}
