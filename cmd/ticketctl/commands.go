package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-console/internal/api"
	"github.com/spec-kit/ticket-console/internal/domain"
	"github.com/spec-kit/ticket-console/internal/forms"
	"github.com/spec-kit/ticket-console/internal/session"
)

func (a *app) cmdLogin(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("login", pflag.ContinueOnError)
	username := flags.StringP("username", "u", "", "account username")
	password := flags.StringP("password", "p", "", "account password")
	if err := flags.Parse(args); err != nil {
		return err
	}

	// One-time notice when the previous session ended involuntarily.
	if expired, err := a.store.ConsumeExpired(); err == nil && expired {
		fmt.Fprintln(os.Stderr, "your session expired, please sign in again")
	}

	v := forms.NewValidator()
	ok := v.ValidateAndSet(func() forms.Errors {
		errs := forms.Errors{}
		if msg := forms.Username(*username); msg != "" {
			errs["username"] = msg
		}
		if msg := forms.Password(*password); msg != "" {
			errs["password"] = msg
		}
		return errs
	})
	if !ok {
		return fieldErrors(v)
	}

	if _, err := a.client.Login(ctx, *username, *password); err != nil {
		return userErr(err)
	}
	user, err := a.client.Me(ctx)
	if err != nil {
		return userErr(err)
	}
	fmt.Printf("signed in as %s\n", user.DisplayName())
	return nil
}

func (a *app) cmdLogout() error {
	if err := a.client.Logout(); err != nil {
		return err
	}
	fmt.Println("signed out")
	return nil
}

func (a *app) cmdRegister(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("register", pflag.ContinueOnError)
	username := flags.StringP("username", "u", "", "account username")
	password := flags.StringP("password", "p", "", "account password")
	email := flags.String("email", "", "email address")
	firstName := flags.String("first-name", "", "first name")
	lastName := flags.String("last-name", "", "last name")
	if err := flags.Parse(args); err != nil {
		return err
	}

	v := forms.NewValidator()
	ok := v.ValidateAndSet(func() forms.Errors {
		errs := forms.Errors{}
		if msg := forms.Username(*username); msg != "" {
			errs["username"] = msg
		}
		if msg := forms.Password(*password); msg != "" {
			errs["password"] = msg
		}
		if msg := forms.Email(*email); msg != "" {
			errs["email"] = msg
		}
		if msg := forms.Name(*firstName); msg != "" {
			errs["first_name"] = msg
		}
		if msg := forms.Name(*lastName); msg != "" {
			errs["last_name"] = msg
		}
		return errs
	})
	if !ok {
		return fieldErrors(v)
	}

	user, err := a.client.Register(ctx, domain.Registration{
		Username:  *username,
		Password:  *password,
		Email:     *email,
		FirstName: *firstName,
		LastName:  *lastName,
	})
	if err != nil {
		return userErr(err)
	}
	fmt.Printf("account %s created, sign in with `ticketctl login`\n", user.Username)
	return nil
}

func (a *app) cmdWhoami(ctx context.Context) error {
	user, err := a.client.Me(ctx)
	if err != nil {
		return userErr(err)
	}
	role := "user"
	if user.IsStaff {
		role = "staff"
	}
	fmt.Printf("%s <%s> (%s)\n", user.DisplayName(), user.Email, role)
	if exp, ok := a.client.AccessTokenExpiry(); ok {
		fmt.Printf("access token expires %s\n", time.Unix(exp, 0).Format(time.RFC3339))
	}
	return nil
}

func (a *app) cmdList(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("list", pflag.ContinueOnError)
	status := flags.String("status", "all", "filter by status (open|in_progress|closed|all)")
	priority := flags.String("priority", "all", "filter by priority (low|medium|high|all)")
	search := flags.String("search", "", "search title, description and ticket number")
	ordering := flags.String("ordering", "", "sort order, e.g. -created_at")
	limit := flags.Int("limit", api.DefaultLimit, "page size")
	offset := flags.Int("offset", 0, "page offset")
	view := flags.String("view", "", "layout: table or card (persisted)")
	watch := flags.Bool("watch", false, "poll for changes until interrupted")
	interval := flags.Duration("interval", 0, "poll interval (with --watch)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	layout := a.store.ViewPreference()
	if *view != "" {
		if *view != session.ViewTable && *view != session.ViewCard {
			return fmt.Errorf("unknown view %q", *view)
		}
		layout = *view
		if err := a.store.SetViewPreference(layout); err != nil {
			a.log.Warn("persist view preference", zap.Error(err))
		}
	}

	params := api.ListParams{
		Status:   *status,
		Priority: *priority,
		Search:   *search,
		Ordering: *ordering,
		Limit:    *limit,
		Offset:   *offset,
	}

	if !*watch {
		page, err := a.tickets.List(ctx, params)
		if err != nil {
			return userErr(err)
		}
		renderPage(os.Stdout, page, params, layout)
		return nil
	}

	pollEvery := *interval
	if pollEvery <= 0 {
		pollEvery = a.cfg.Cache.PollInterval()
	}
	sub := a.tickets.Watch(params, pollEvery)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case res, ok := <-sub.Updates():
			if !ok {
				return nil
			}
			if res.Err != nil {
				fmt.Fprintln(os.Stderr, api.UserMessage(res.Err))
				continue
			}
			page, ok := res.Data.(domain.PaginatedTickets)
			if !ok {
				continue
			}
			fmt.Printf("-- %s --\n", time.Now().Format(time.TimeOnly))
			renderPage(os.Stdout, page, params, layout)
		}
	}
}

func (a *app) cmdShow(ctx context.Context, args []string) error {
	id, err := ticketID(args)
	if err != nil {
		return err
	}
	ticket, err := a.tickets.Get(ctx, id)
	if err != nil {
		return userErr(err)
	}
	renderTicket(os.Stdout, ticket)
	return nil
}

func (a *app) cmdCreate(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("create", pflag.ContinueOnError)
	title := flags.StringP("title", "t", "", "ticket title")
	description := flags.StringP("description", "d", "", "problem description")
	priority := flags.String("priority", string(domain.TicketPriorityMedium), "priority (low|medium|high)")
	imagePaths := flags.StringArray("image", nil, "image attachment (repeatable)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	v := forms.NewValidator()
	ok := v.ValidateAndSet(func() forms.Errors {
		errs := forms.Errors{}
		if msg := forms.Title(*title); msg != "" {
			errs["title"] = msg
		}
		if msg := forms.Description(*description); msg != "" {
			errs["description"] = msg
		}
		return errs
	})
	if !ok {
		return fieldErrors(v)
	}
	if !domain.ValidPriority(domain.TicketPriority(*priority)) {
		return fmt.Errorf("unknown priority %q", *priority)
	}

	images, err := loadImages(*imagePaths)
	if err != nil {
		return err
	}

	ticket, err := a.tickets.Create(ctx, api.CreateTicketInput{
		Title:       *title,
		Description: *description,
		Priority:    domain.TicketPriority(*priority),
		Images:      images,
	})
	if err != nil {
		return userErr(err)
	}
	fmt.Printf("created ticket #%d (%s)\n", ticket.ID, ticket.TicketNumber)
	return nil
}

// loadImages validates the attachment batch before reading file
// contents, so a rejected batch does no IO beyond stat.
func loadImages(paths []string) ([]api.ImageFile, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	var batch forms.AttachmentBatch
	candidates := make([]forms.AttachmentFile, 0, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, forms.AttachmentFile{Name: info.Name(), Size: info.Size()})
	}
	if err := batch.Add(candidates...); err != nil {
		return nil, err
	}

	images := make([]api.ImageFile, 0, len(paths))
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		images = append(images, api.ImageFile{Name: fileName(path), Content: content})
	}
	return images, nil
}

func fileName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

func (a *app) cmdStatus(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("status", pflag.ContinueOnError)
	set := flags.String("set", "", "new status (open|in_progress|closed)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	id, err := ticketID(flags.Args())
	if err != nil {
		return err
	}
	status := domain.TicketStatus(*set)
	if !domain.ValidStatus(status) {
		return fmt.Errorf("unknown status %q", *set)
	}

	ticket, err := a.tickets.UpdateStatus(ctx, id, status)
	if err != nil {
		return userErr(err)
	}
	fmt.Printf("ticket #%d is now %s\n", ticket.ID, ticket.Status)
	return nil
}

func (a *app) cmdRespond(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("respond", pflag.ContinueOnError)
	message := flags.StringP("message", "m", "", "message to append")
	if err := flags.Parse(args); err != nil {
		return err
	}
	id, err := ticketID(flags.Args())
	if err != nil {
		return err
	}
	if strings.TrimSpace(*message) == "" {
		return fmt.Errorf("message is required")
	}

	ticket, err := a.tickets.Respond(ctx, id, *message)
	if err != nil {
		return userErr(err)
	}
	fmt.Printf("response added, %d messages in thread\n", len(ticket.Responses))
	return nil
}

func (a *app) cmdDelete(ctx context.Context, args []string) error {
	id, err := ticketID(args)
	if err != nil {
		return err
	}
	if err := a.tickets.Delete(ctx, id); err != nil {
		return userErr(err)
	}
	fmt.Printf("ticket #%d deleted\n", id)
	return nil
}

func ticketID(args []string) (int64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("expected exactly one ticket id")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid ticket id %q", args[0])
	}
	return id, nil
}

func fieldErrors(v *forms.Validator) error {
	errs := v.Errors()
	fields := make([]string, 0, len(errs))
	for field := range errs {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, errs[field]))
	}
	return fmt.Errorf("%s", strings.Join(parts, "; "))
}
