package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/walink/internal/groups"
)

const groupNameColumn = 28

func groupsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "List known groups and manage membership",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := signalContext()
			defer cancel()
			a := mustApp(ctx)
			defer a.Close()
			a.mustConnect(ctx)

			list, err := a.client.ListGroups()
			if err != nil {
				a.fail(err)
			}
			printGroups(os.Stdout, list)
		},
	}
	cmd.AddCommand(groupsMembersCmd("add", "Add participants to a group", (*groups.Manager).AddParticipants))
	cmd.AddCommand(groupsMembersCmd("remove", "Remove participants from a group", (*groups.Manager).RemoveParticipants))
	cmd.AddCommand(groupsMembersCmd("promote", "Make participants admins", (*groups.Manager).Promote))
	cmd.AddCommand(groupsMembersCmd("demote", "Revoke admin rights", (*groups.Manager).Demote))
	cmd.AddCommand(groupsJoinCmd())
	cmd.AddCommand(groupsLeaveCmd())
	cmd.AddCommand(groupsInviteCmd())
	return cmd
}

func printGroups(w io.Writer, list []groups.Group) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No groups found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tNAME\tMEMBERS\tID")
	for i, g := range list {
		name := runewidth.Truncate(g.Name, groupNameColumn, "…")
		// tabwriter counts bytes, so pad wide runes ourselves.
		name = runewidth.FillRight(name, groupNameColumn)
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", i+1, name, g.MemberCount, g.GroupID)
	}
	tw.Flush()
}

type membersOp func(m *groups.Manager, ctx context.Context, groupID string, participants []string) (*groups.Result, error)

func groupsMembersCmd(use, short string, op membersOp) *cobra.Command {
	var country string
	cmd := &cobra.Command{
		Use:   use + " <group-id> <phone-or-jid>...",
		Short: short,
		Args:  cobra.MinimumNArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			participants := make([]string, 0, len(args)-1)
			for _, p := range args[1:] {
				j, err := resolveTarget(p, country)
				if err != nil {
					fail(err)
				}
				participants = append(participants, j)
			}

			ctx, cancel := signalContext()
			defer cancel()
			a := mustApp(ctx)
			defer a.Close()
			a.mustConnect(ctx)

			m, err := a.client.Groups()
			if err != nil {
				a.fail(err)
			}
			res, err := op(m, ctx, args[0], participants)
			if err != nil {
				a.fail(err)
			}
			fmt.Printf("%s: %s (%d participants)\n", res.Status, res.GroupID, len(res.Participants))
		},
	}
	cmd.Flags().StringVar(&country, "country", "", "country code for numbers without one")
	return cmd
}

func groupsJoinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join <invite-link>",
		Short: "Join a group through an invite link",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := signalContext()
			defer cancel()
			a := mustApp(ctx)
			defer a.Close()
			a.mustConnect(ctx)

			m, err := a.client.Groups()
			if err != nil {
				a.fail(err)
			}
			g, err := m.Join(ctx, args[0])
			if err != nil {
				a.fail(err)
			}
			fmt.Printf("Joined %s\n", g.GroupID)
		},
	}
}

func groupsLeaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leave <group-id>",
		Short: "Leave a group",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := signalContext()
			defer cancel()
			a := mustApp(ctx)
			defer a.Close()
			a.mustConnect(ctx)

			m, err := a.client.Groups()
			if err != nil {
				a.fail(err)
			}
			if _, err := m.Leave(ctx, args[0]); err != nil {
				a.fail(err)
			}
			fmt.Printf("Left %s\n", args[0])
		},
	}
}

func groupsInviteCmd() *cobra.Command {
	var revoke bool
	cmd := &cobra.Command{
		Use:   "invite <group-id>",
		Short: "Print (or reset) the group invite link",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := signalContext()
			defer cancel()
			a := mustApp(ctx)
			defer a.Close()
			a.mustConnect(ctx)

			m, err := a.client.Groups()
			if err != nil {
				a.fail(err)
			}
			var res *groups.Result
			if revoke {
				res, err = m.RevokeInviteLink(ctx, args[0])
			} else {
				res, err = m.InviteLink(ctx, args[0])
			}
			if err != nil {
				a.fail(err)
			}
			fmt.Println(res.InviteLink)
		},
	}
	cmd.Flags().BoolVar(&revoke, "revoke", false, "revoke the current link and create a new one")
	return cmd
}

func createGroupCmd() *cobra.Command {
	var (
		name, description, country string
		participants               []string
		announce                   bool
	)
	cmd := &cobra.Command{
		Use:     "create-group",
		Short:   "Create a group",
		Example: `  walink create-group --name "Team" --participants +15551234567 --participants +15557654321`,
		Run: func(cmd *cobra.Command, args []string) {
			members := make([]string, 0, len(participants))
			for _, p := range participants {
				for _, part := range strings.Split(p, ",") {
					if part = strings.TrimSpace(part); part == "" {
						continue
					}
					j, err := resolveTarget(part, country)
					if err != nil {
						fail(err)
					}
					members = append(members, j)
				}
			}

			ctx, cancel := signalContext()
			defer cancel()
			a := mustApp(ctx)
			defer a.Close()
			a.mustConnect(ctx)

			g, err := a.client.CreateGroup(ctx, name, members, groups.CreateOptions{
				Description: description,
				Announce:    announce,
				Owner:       a.client.ConnectionInfo().PhoneNumber,
			})
			if err != nil {
				a.fail(err)
			}
			fmt.Printf("Created group %q\n", g.Name)
			fmt.Printf("  ID:      %s\n", g.GroupID)
			fmt.Printf("  Members: %d\n", g.MemberCount)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "group name (max 25 characters)")
	cmd.Flags().StringArrayVar(&participants, "participants", nil, "participant phone numbers or JIDs (repeat or comma-separate)")
	cmd.Flags().StringVar(&description, "description", "", "group description")
	cmd.Flags().StringVar(&country, "country", "", "country code for numbers without one")
	cmd.Flags().BoolVar(&announce, "announce", false, "only admins can edit group info")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
