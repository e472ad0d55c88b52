// ticketctl is a terminal front end for the support-ticket service:
// sign in, browse and search the ticket queue, open tickets with image
// attachments, follow threads, and (for staff) triage statuses.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-console/internal/api"
	"github.com/spec-kit/ticket-console/internal/config"
	"github.com/spec-kit/ticket-console/internal/events"
	"github.com/spec-kit/ticket-console/internal/observability"
	"github.com/spec-kit/ticket-console/internal/query"
	"github.com/spec-kit/ticket-console/internal/session"
	"github.com/spec-kit/ticket-console/internal/tickets"
)

const usage = `usage: ticketctl <command> [flags]

commands:
  login      sign in and store the session
  logout     discard the stored session
  register   create an account
  whoami     show the signed-in user
  list       list tickets (filter, search, paginate, --watch)
  show       show one ticket with its thread
  create     open a new ticket (optionally with images)
  status     change a ticket's status (staff)
  respond    append a message to a ticket's thread
  delete     delete a ticket

run "ticketctl <command> --help" for command flags.
`

// app bundles everything a command needs.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	store   session.Store
	client  *api.Client
	tickets *tickets.Service
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	args := os.Args[1:]
	if len(args) == 0 {
		fmt.Print(usage)
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	store, err := session.NewFileStore(cfg.API.SessionFile)
	if err != nil {
		return err
	}

	dispatcher := events.NewInMemoryDispatcher()
	dispatcher.Subscribe(events.EventSessionExpired, func(context.Context, events.Event) error {
		fmt.Fprintln(os.Stderr, "your session has expired")
		return nil
	})

	client := api.New(cfg.API, store, logger,
		api.WithDispatcher(dispatcher),
		api.WithMetrics(observability.NewMetrics()),
	)
	cache := query.New(cfg.Cache.GCGrace(), logger)
	service := tickets.NewService(client, cache, cfg.Cache, logger)

	a := &app{cfg: cfg, log: logger, store: store, client: client, tickets: service}

	ctx := context.Background()
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "login":
		return a.cmdLogin(ctx, rest)
	case "logout":
		return a.cmdLogout()
	case "register":
		return a.cmdRegister(ctx, rest)
	case "whoami":
		return a.cmdWhoami(ctx)
	case "list":
		return a.cmdList(ctx, rest)
	case "show":
		return a.cmdShow(ctx, rest)
	case "create":
		return a.cmdCreate(ctx, rest)
	case "status":
		return a.cmdStatus(ctx, rest)
	case "respond":
		return a.cmdRespond(ctx, rest)
	case "delete":
		return a.cmdDelete(ctx, rest)
	case "help", "--help", "-h":
		fmt.Print(usage)
		return nil
	default:
		fmt.Print(usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// userErr converts an API failure into the message shown to the user.
func userErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s", api.UserMessage(err))
}
