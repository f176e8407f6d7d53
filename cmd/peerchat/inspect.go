package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"peerchat/internal/app"
	"peerchat/internal/social"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newInspectCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print stored state for debugging",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "user <handle-or-email>",
		Short: "Show connections and pending requests of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), opts, func(ctx context.Context, cfg app.Config, backend *app.Backend) error {
				graph := social.NewConnectionGraph(nil, backend.Users, cfg.Social)
				return inspectUser(ctx, cmd.OutOrStdout(), backend.Users, graph, args[0])
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "chats <handle-or-email>",
		Short: "Show chats of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), opts, func(ctx context.Context, cfg app.Config, backend *app.Backend) error {
				dir := social.NewChatDirectory(nil, backend.Users, backend.Chats, cfg.Social)
				return inspectChats(ctx, cmd.OutOrStdout(), backend.Users, dir, args[0])
			})
		},
	})

	return cmd
}

func withBackend(ctx context.Context, opts *rootOptions, fn func(context.Context, app.Config, *app.Backend) error) error {
	cfg, logger, err := setup(opts)
	if err != nil {
		return err
	}
	defer logger.Sync()

	backend, err := app.Open(ctx, logger.Sugar(), cfg)
	if err != nil {
		return fmt.Errorf("cannot open storage: %w", err)
	}
	defer backend.Close()

	return fn(ctx, cfg, backend)
}

func inspectUser(ctx context.Context, w io.Writer, users social.IdentityStore, graph *social.ConnectionGraph, login string) error {
	u, err := users.FindByHandleOrEmail(ctx, login)
	if err != nil {
		return fmt.Errorf("find %q: %w", login, err)
	}

	connections, err := graph.Connections(ctx, u.ID)
	if err != nil {
		return err
	}
	requests, err := graph.Requests(ctx, u.ID)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s (%s) id=%s version=%d\n", u.Handle, u.Email, u.ID, u.Version)

	table := newTable(w, "Relation", "Handle", "ID", "Since")
	for _, p := range connections {
		table.Append([]string{string(social.StatusConnected), p.Handle, p.ID, ""})
	}
	for _, r := range requests.Sent {
		table.Append([]string{string(social.StatusRequestSent), r.User.Handle, r.User.ID, formatTime(r.At)})
	}
	for _, r := range requests.Received {
		table.Append([]string{string(social.StatusRequestReceived), r.User.Handle, r.User.ID, formatTime(r.At)})
	}
	table.Render()

	return nil
}

func inspectChats(ctx context.Context, w io.Writer, users social.IdentityStore, dir *social.ChatDirectory, login string) error {
	u, err := users.FindByHandleOrEmail(ctx, login)
	if err != nil {
		return fmt.Errorf("find %q: %w", login, err)
	}

	chats, err := dir.ListChats(ctx, u.ID)
	if err != nil {
		return err
	}

	table := newTable(w, "Chat", "With", "Last message", "Updated")
	for _, c := range chats {
		table.Append([]string{c.ChatID, c.OtherParticipant.Handle, c.LastMessage.Content, formatTime(c.UpdatedAt)})
	}
	table.Render()

	return nil
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	return table
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
