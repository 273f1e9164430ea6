package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/walink/internal/connection"
	"github.com/nextlevelbuilder/walink/internal/jid"
	"github.com/nextlevelbuilder/walink/internal/store"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(16)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	badStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func statusCmd() *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Connect and show the session status",
		Run: func(cmd *cobra.Command, args []string) {
			if offline {
				showStoredStatus()
				return
			}

			ctx, cancel := signalContext()
			defer cancel()
			a := mustApp(ctx)
			defer a.Close()
			if err := a.connect(ctx, ""); err != nil {
				fmt.Println(renderStatus(a.client.ConnectionInfo()))
				a.fail(err)
			}
			fmt.Println(renderStatus(a.client.ConnectionInfo()))
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "only show the stored session, do not contact the backend")
	return cmd
}

func showStoredStatus() {
	cfg := loadConfig()
	id := effectiveSessionID(cfg)
	if id == "" {
		fail(fmt.Errorf("--session-id is required with --offline"))
	}
	ctx := context.Background()
	sessions, err := openSessionStore(ctx, cfg)
	if err != nil {
		fail(err)
	}
	defer sessions.Close()

	info := connection.Info{State: connection.StateDisconnected, SessionID: id}
	sess, err := sessions.Load(ctx, id)
	switch {
	case store.IsNotFound(err):
	case err != nil:
		fail(err)
	default:
		info.PhoneNumber = sess.PhoneNumber
		at := sess.AuthenticatedAt
		info.AuthenticatedAt = &at
	}
	fmt.Println(renderStatus(info))
}

func renderStatus(info connection.Info) string {
	state := badStyle.Render(string(info.State))
	if info.IsConnected {
		state = okStyle.Render(string(info.State))
	}
	phone := "-"
	if info.PhoneNumber != "" {
		phone = jid.MaskPhoneNumber(info.PhoneNumber)
	}
	authAt := "-"
	if info.AuthenticatedAt != nil {
		authAt = info.AuthenticatedAt.Local().Format(time.RFC1123)
	}

	rows := []string{
		titleStyle.Render("walink session"),
		labelStyle.Render("Session") + info.SessionID,
		labelStyle.Render("State") + state,
		labelStyle.Render("Phone") + phone,
		labelStyle.Render("Authenticated") + authAt,
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}
