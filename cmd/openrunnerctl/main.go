// Command openrunnerctl is a thin CLI client for the openrunnerd daemon's
// Command/Event Surface.
package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openrunner/openrunner/internal/ctlclient"
	"github.com/openrunner/openrunner/internal/domain"
)

var addr string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "openrunnerctl",
		Short:        "Talk to a running openrunnerd daemon",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&addr, "addr", "http://localhost:8080", "openrunnerd API base URL")

	root.AddCommand(newGroupsCmd())
	root.AddCommand(newProcessCmd())
	root.AddCommand(newLogsCmd())
	return root
}

func client() *ctlclient.Client {
	return ctlclient.New(addr)
}

func newGroupsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Inspect and manage groups",
	}

	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List groups and their projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			var groups []domain.Group
			if err := client().Get(context.Background(), "/api/groups", &groups); err != nil {
				return err
			}
			if len(groups) == 0 {
				fmt.Println("No groups found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "GROUP\tDIRECTORY\tPROJECT\tKIND\tID")
			for _, g := range groups {
				for _, p := range g.Projects {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", g.Name, g.Directory, p.Name, p.Kind, p.ID)
				}
			}
			return w.Flush()
		},
	}

	create := &cobra.Command{
		Use:   "create NAME DIRECTORY",
		Short: "Create a group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var created domain.Group
			req := map[string]any{"name": args[0], "directory": args[1], "syncEnabled": false}
			if err := client().Post(context.Background(), "/api/groups", req, &created); err != nil {
				return err
			}
			fmt.Printf("created group %s (%s)\n", created.Name, created.ID)
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a group, stopping its running projects first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().Delete(context.Background(), "/api/groups/"+args[0])
		},
	}

	reload := &cobra.Command{
		Use:   "reload ID",
		Short: "Reload a group from its YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().Post(context.Background(), "/api/groups/"+args[0]+"/reload", nil, nil)
		},
	}

	cmd.AddCommand(list, create, del, reload)
	return cmd
}

func newProcessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Start, stop, and inspect project processes",
	}

	status := &cobra.Command{
		Use:     "status",
		Aliases: []string{"ps"},
		Short:   "Show every project's current status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var statuses []domain.ProcessInfo
			if err := client().Get(context.Background(), "/api/processes", &statuses); err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROJECT\tSTATUS\tPID\tCPU%\tRSS")
			for _, p := range statuses {
				fmt.Fprintf(w, "%s\t%s\t%d\t%.1f\t%d\n", p.ProjectID, p.Status, p.Pid, p.CPUPercent, p.RSSBytes)
			}
			return w.Flush()
		},
	}

	start := &cobra.Command{
		Use:   "start ID",
		Short: "Start a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().Post(context.Background(), "/api/processes/"+args[0]+"/start", nil, nil)
		},
	}

	stop := &cobra.Command{
		Use:   "stop ID",
		Short: "Stop a project (graceful, then forced after the grace window)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().Post(context.Background(), "/api/processes/"+args[0]+"/stop", nil, nil)
		},
	}

	restart := &cobra.Command{
		Use:   "restart ID",
		Short: "Restart a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().Post(context.Background(), "/api/processes/"+args[0]+"/restart", nil, nil)
		},
	}

	cmd.AddCommand(status, start, stop, restart)
	return cmd
}

func newLogsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "logs ID",
		Short: "Show a project's recent log chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var chunks []domain.LogChunk
			path := fmt.Sprintf("/api/projects/%s/recent-logs?limit=%d", args[0], limit)
			if err := client().Get(context.Background(), path, &chunks); err != nil {
				return err
			}
			for _, c := range chunks {
				fmt.Printf("[%s] %s", c.Stream, c.Data)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "number of log chunks to fetch")
	return cmd
}
