package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/toolwatch/internal/model"
)

var notificationsCmd = &cobra.Command{
	Use:     "notifications",
	Aliases: []string{"events"},
	Short:   "Inspect the pipeline event log",
}

var notificationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notification events",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		unread, _ := cmd.Flags().GetBool("unread")
		limit, _ := cmd.Flags().GetInt("limit")

		events, err := st.ListNotifications(ctx, unread, limit)
		if err != nil {
			return eris.Wrap(err, "list notifications")
		}
		if len(events) == 0 {
			fmt.Fprintln(os.Stderr, "No notifications.")
			return nil
		}

		formatNotifications(os.Stdout, events)
		return nil
	},
}

var notificationsReadCmd = &cobra.Command{
	Use:   "read <id>",
	Short: "Mark a notification as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		if err := st.MarkNotificationRead(ctx, args[0]); err != nil {
			return eris.Wrap(err, "mark notification read")
		}
		fmt.Println("Marked read.")
		return nil
	},
}

func formatNotifications(w io.Writer, events []model.NotificationEvent) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tTITLE\tCREATED\tREAD")
	for _, e := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n",
			e.ID, e.Type, e.Title, e.CreatedAt.Format("2006-01-02 15:04"), e.IsRead)
	}
	tw.Flush()
}

func init() {
	notificationsListCmd.Flags().Bool("unread", false, "only unread notifications")
	notificationsListCmd.Flags().Int("limit", 50, "maximum rows")
	notificationsCmd.AddCommand(notificationsListCmd, notificationsReadCmd)
	rootCmd.AddCommand(notificationsCmd)
}
