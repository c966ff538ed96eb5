package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/huangang/taskreport/internal/docgen"
	"github.com/spf13/cobra"
)

func newTickCommand() *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Evaluate every active configuration once and run the due ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			now := time.Now()
			if at != "" {
				if now, err = time.Parse(time.RFC3339, at); err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
			}

			res := a.dispatcher.DispatchAndWait(cmd.Context(), now)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if res.Err != nil {
				return res.Err
			}
			if res.Failed > 0 {
				return fmt.Errorf("%d report(s) failed", res.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "evaluate as of this RFC3339 time instead of now")
	return cmd
}

func newRenderCommand() *cobra.Command {
	var (
		id     uint
		format string
		out    string
	)

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a report to a file without sending it",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			c, err := a.configs.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			f := c.Format()
			if format != "" {
				if f, err = docgen.ParseFormat(format); err != nil {
					return err
				}
			}

			report, err := a.pipeline.Generate(cmd.Context(), c, f, time.Now())
			if err != nil {
				return err
			}
			if out == "" {
				out = report.FileName()
			}
			if err := os.WriteFile(out, report.Data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", out, len(report.Data))
			return nil
		},
	}

	cmd.Flags().UintVar(&id, "config", 0, "report configuration id")
	cmd.Flags().StringVarP(&format, "format", "f", "", "PlainText, PDF or XLSX; the configured format when empty")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file, report-<id>-<date>.<ext> when empty")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func newSendCommand() *cobra.Command {
	var id uint

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Generate and deliver a report now, leaving its schedule untouched",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			res, err := a.dispatcher.SendNow(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s: %s to %d recipient(s)\n", res.RunID, res.Status, len(res.Recipients))
			return nil
		},
	}

	cmd.Flags().UintVar(&id, "config", 0, "report configuration id")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func newListCommand() *cobra.Command {
	var filter string

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List report configurations and their next run",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			configs, err := a.configs.Search(cmd.Context(), filter)
			if err != nil {
				return err
			}

			now := time.Now()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tACTIVE\tSCHEDULE\tFORMAT\tLAST FIRED\tNEXT RUN")
			for i := range configs {
				c := &configs[i]
				rule := "manual"
				if r, err := c.Rule(); err == nil && r.Validate() == nil {
					rule = r.String()
				}
				last, next := "-", "-"
				if c.LastFiredAt != nil {
					last = c.LastFiredAt.In(a.evaluator.Location()).Format(time.DateTime)
				}
				if t, ok := a.dispatcher.Upcoming(c, now); ok {
					next = t.Format(time.DateTime)
				}
				fmt.Fprintf(w, "%d\t%s\t%t\t%s\t%s\t%s\t%s\n", c.ID, c.Name, c.Active, rule, c.Format(), last, next)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&filter, "filter", "", "name substring")
	return cmd
}
