package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fpang/penguin-studio/internal/boot"
	"github.com/fpang/penguin-studio/internal/cli"
	"github.com/fpang/penguin-studio/internal/enhancer"
	"github.com/fpang/penguin-studio/internal/generator"
	"github.com/fpang/penguin-studio/internal/metrics"
	"github.com/fpang/penguin-studio/internal/workflow"
)

// clientID identifies CLI calls to the rate limiter.
const clientID = "cli"

// CLI flags
var (
	configFlag   string
	jsonFlag     bool
	kindFlag     string
	rawFlag      bool
	aspectFlag   string
	sizeFlag     string
	durationFlag int
)

var app *boot.App

var rootCmd = &cobra.Command{
	Use:   "penguin-cli",
	Short: "Operate Penguin Studio from the terminal",
	Long: `penguin-cli runs the same workflow as the web app against the configured
providers and record stores.

Examples:
  penguin-cli enhance "surfing a big wave"
  penguin-cli generate --kind image "eating sushi"
  penguin-cli records list --kind video
  penguin-cli records approve vid_1739000000000
  penguin-cli share --platform zapier --url https://... --caption "Waddle"`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		app, err = boot.Load(cmd.Context(), boot.Options{
			Name:       "penguin-cli",
			ConfigFile: configFlag,
			Observer:   metrics.Nop{},
		})
		return err
	},
	PersistentPostRunE: func(*cobra.Command, []string) error {
		if app == nil {
			return nil
		}
		return app.Close()
	},
}

var enhanceCmd = &cobra.Command{
	Use:   "enhance [idea]",
	Short: "Turn an idea into a penguin prompt",
	RunE: func(cmd *cobra.Command, args []string) error {
		idea, err := ideaFrom(cmd, args)
		if err != nil {
			return err
		}
		result, err := enhance(cmd.Context(), idea)
		if err != nil {
			return err
		}
		if jsonFlag {
			return cli.WriteJSON(cmd.OutOrStdout(), result)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n\nprovider: %s\nreasoning: %s\n", result.EnhancedPrompt, result.Provider, result.Reasoning)
		return nil
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate [idea]",
	Short: "Enhance an idea and generate media from it",
	RunE: func(cmd *cobra.Command, args []string) error {
		idea, err := ideaFrom(cmd, args)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		prompt, original := idea, idea
		if !rawFlag {
			result, err := enhance(ctx, idea)
			if err != nil {
				return err
			}
			prompt = result.EnhancedPrompt
			fmt.Fprintf(cmd.ErrOrStderr(), "Enhanced prompt: %s\n", result.EnhancedPrompt)
		}

		fmt.Fprintf(cmd.ErrOrStderr(), "Generating %s...\n", kindFlag)
		resp, err := app.Workflow.Handle(ctx, workflow.Request{
			Step:           string(workflow.StepGenerate),
			ClientID:       clientID,
			Kind:           kindFlag,
			EnhancedPrompt: prompt,
			OriginalPrompt: original,
			Constraints: generator.Constraints{
				AspectRatio: aspectFlag,
				Size:        sizeFlag,
				Duration:    durationFlag,
			},
		})
		if err != nil {
			return err
		}
		return cli.WriteJSON(cmd.OutOrStdout(), resp.Result)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Optional YAML or JSON config file")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Print JSON output")
	rootCmd.PersistentFlags().StringVarP(&kindFlag, "kind", "k", string(workflow.DefaultKind), "Media kind: image or video")

	generateCmd.Flags().BoolVar(&rawFlag, "raw", false, "Skip enhancement and send the idea as-is")
	generateCmd.Flags().StringVar(&aspectFlag, "aspect-ratio", "", "Aspect ratio, e.g. 9:16")
	generateCmd.Flags().StringVar(&sizeFlag, "size", "", "Image size, e.g. 1024x1024")
	generateCmd.Flags().IntVar(&durationFlag, "duration", 0, "Video length in seconds")

	rootCmd.AddCommand(enhanceCmd, generateCmd, recordsCmd, shareCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", cli.Describe(err))
		os.Exit(1)
	}
}

func ideaFrom(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	return cli.PromptForIdea(cmd.InOrStdin(), cmd.ErrOrStderr())
}

func enhance(ctx context.Context, idea string) (*enhancer.Result, error) {
	resp, err := app.Workflow.Handle(ctx, workflow.Request{
		Step:     string(workflow.StepEnhance),
		ClientID: clientID,
		Prompt:   idea,
	})
	if err != nil {
		return nil, err
	}
	result, ok := resp.Result.(*enhancer.Result)
	if !ok {
		return nil, fmt.Errorf("unexpected enhance result %T", resp.Result)
	}
	return result, nil
}
