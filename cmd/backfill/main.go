package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/liftline/liftline-backend/internal/app"
	types "github.com/liftline/liftline-backend/internal/domain"
	"github.com/liftline/liftline-backend/internal/pkg/dbctx"
)

type typeList []string

func (l *typeList) String() string { return strings.Join(*l, ",") }
func (l *typeList) Set(v string) error {
	v = strings.TrimSpace(v)
	if v != "" {
		*l = append(*l, v)
	}
	return nil
}

var domainJobTypes = map[string]string{
	"objective": types.JobTypeObjectiveBackfill,
	"strength":  types.JobTypeStrengthBackfill,
	"timeline":  types.JobTypeTimelineBackfill,
	"recovery":  types.JobTypeRecoveryBackfill,
}

func main() {
	var eventTypes typeList
	var domain, source string
	var allUsers, dryRun bool
	flag.StringVar(&domain, "domain", "", "projection domain: objective|strength|timeline|recovery")
	flag.StringVar(&source, "source", "", "traceability label stamped on every projection this run writes")
	flag.Var(&eventTypes, "event-type", "event type to target (repeatable; defaults to the domain's signal set)")
	flag.BoolVar(&allUsers, "all-users", false, "target every registered user, synthesizing defaults for users with no events")
	flag.BoolVar(&dryRun, "dry-run", false, "print the controller job without enqueueing")
	flag.Parse()

	jobType, ok := domainJobTypes[strings.TrimSpace(domain)]
	if !ok {
		fmt.Printf("unknown -domain %q (want objective|strength|timeline|recovery)\n", domain)
		os.Exit(1)
	}
	if strings.TrimSpace(source) == "" {
		fmt.Println("-source is required")
		os.Exit(1)
	}

	if dryRun {
		fmt.Printf("would enqueue %s source=%s event_types=%v all_users=%v\n", jobType, source, []string(eventTypes), allUsers)
		return
	}

	application, err := app.New()
	if err != nil {
		fmt.Printf("init app: %v\n", err)
		os.Exit(1)
	}
	defer application.Close()

	dbc := dbctx.Context{Ctx: context.Background()}
	job, created, err := application.Services.Jobs.EnqueueBackfill(dbc, jobType, source, eventTypes, allUsers)
	if err != nil {
		fmt.Printf("enqueue backfill: %v\n", err)
		os.Exit(1)
	}
	if created {
		fmt.Printf("enqueued %s job=%s source=%s\n", jobType, job.ID, source)
	} else {
		fmt.Printf("already in flight: %s job=%s source=%s\n", jobType, job.ID, source)
	}
}
