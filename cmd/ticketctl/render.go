package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spec-kit/ticket-console/internal/api"
	"github.com/spec-kit/ticket-console/internal/domain"
	"github.com/spec-kit/ticket-console/internal/session"
	"github.com/spec-kit/ticket-console/internal/tickets"
)

func renderPage(w io.Writer, page domain.PaginatedTickets, params api.ListParams, layout string) {
	if layout == session.ViewCard {
		renderCards(w, page.Results)
	} else {
		renderTable(w, page.Results)
	}

	limit := params.Limit
	if limit <= 0 {
		limit = api.DefaultLimit
	}
	p := tickets.Page{Count: page.Count, Limit: limit, Offset: params.Offset}
	fmt.Fprintln(w, p.RangeText())
	if page.Count > 0 {
		fmt.Fprintf(w, "page %d of %d\n", p.Current(), p.TotalPages())
	}
}

func renderTable(w io.Writer, list []domain.Ticket) {
	if len(list) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNUMBER\tTITLE\tPRIORITY\tSTATUS\tOWNER\tUPDATED")
	for _, t := range list {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.TicketNumber, truncate(t.Title, 40), t.Priority, t.Status,
			t.User.DisplayName(), t.UpdatedAt.Local().Format(time.DateTime))
	}
	tw.Flush()
}

func renderCards(w io.Writer, list []domain.Ticket) {
	for _, t := range list {
		fmt.Fprintf(w, "#%d %s [%s/%s]\n", t.ID, t.TicketNumber, t.Priority, t.Status)
		fmt.Fprintf(w, "  %s\n", t.Title)
		fmt.Fprintf(w, "  %s - %s\n\n", t.User.DisplayName(), t.UpdatedAt.Local().Format(time.DateTime))
	}
}

func renderTicket(w io.Writer, t domain.Ticket) {
	fmt.Fprintf(w, "#%d %s - %s\n", t.ID, t.TicketNumber, t.Title)
	fmt.Fprintf(w, "priority: %s  status: %s  owner: %s\n", t.Priority, t.Status, t.User.DisplayName())
	fmt.Fprintf(w, "opened:  %s\nupdated: %s\n\n", t.CreatedAt.Local().Format(time.DateTime), t.UpdatedAt.Local().Format(time.DateTime))
	fmt.Fprintln(w, t.Description)

	if len(t.Images) > 0 {
		fmt.Fprintf(w, "\nattachments:\n")
		for _, img := range t.Images {
			fmt.Fprintf(w, "  %s\n", img.Image)
		}
	}

	if len(t.Responses) > 0 {
		fmt.Fprintf(w, "\nthread (%d):\n", len(t.Responses))
		for _, r := range t.Responses {
			fmt.Fprintf(w, "  [%s] %s: %s\n", r.CreatedAt.Local().Format(time.DateTime), r.User.DisplayName(), r.Message)
		}
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
