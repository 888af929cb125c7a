package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fpang/penguin-studio/internal/cli"
	"github.com/fpang/penguin-studio/internal/social"
	"github.com/fpang/penguin-studio/internal/workflow"
)

var (
	urlFlag      string
	captionFlag  string
	platformFlag string
	scheduleFlag string
	targetFlag   string
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "List and review generated media",
}

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List records, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		records, err := app.Workflow.Records(cmd.Context(), kindFlag)
		if err != nil {
			return err
		}
		if jsonFlag {
			return cli.WriteJSON(cmd.OutOrStdout(), records)
		}
		return cli.WriteRecords(cmd.OutOrStdout(), records)
	},
}

func reviewCmd(use, decision string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID",
		Short: "Mark a record " + decision,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := app.Workflow.Handle(cmd.Context(), workflow.Request{
				Step:     string(workflow.StepApprove),
				ClientID: clientID,
				Kind:     kindFlag,
				RecordID: args[0],
				Decision: decision,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
			return nil
		},
	}
}

var recordsDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Remove a record from the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := app.Workflow.DeleteRecord(cmd.Context(), kindFlag, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
		return nil
	},
}

var shareCmd = &cobra.Command{
	Use:   "share",
	Short: "Post media to a configured platform",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		resp, err := app.Workflow.Handle(cmd.Context(), workflow.Request{
			Step:     string(workflow.StepShare),
			ClientID: clientID,
			Kind:     kindFlag,
			MediaURL: urlFlag,
			Caption:  captionFlag,
			Platform: platformFlag,
			Schedule: scheduleFlag,
			Target:   targetFlag,
		})
		if err != nil {
			return err
		}
		result, _ := resp.Result.(social.Result)
		if jsonFlag {
			return cli.WriteJSON(cmd.OutOrStdout(), result)
		}
		fmt.Fprintln(cmd.OutOrStdout(), result.Message)
		if !result.Success {
			return fmt.Errorf("%s", result.Error)
		}
		return nil
	},
}

func init() {
	recordsCmd.AddCommand(recordsListCmd, reviewCmd("approve", "approve"), reviewCmd("reject", "reject"), recordsDeleteCmd)

	shareCmd.Flags().StringVar(&urlFlag, "url", "", "Public media URL")
	shareCmd.Flags().StringVar(&captionFlag, "caption", "", "Post caption")
	shareCmd.Flags().StringVar(&platformFlag, "platform", "", "Target platform (instagram, tiktok, buffer, mixpost, zapier, ifttt)")
	shareCmd.Flags().StringVar(&scheduleFlag, "schedule", "", "now, optimal or an RFC 3339 time")
	shareCmd.Flags().StringVar(&targetFlag, "target", "", "Downstream platform hint for webhook relays")
	_ = shareCmd.MarkFlagRequired("url")
	_ = shareCmd.MarkFlagRequired("platform")
}
