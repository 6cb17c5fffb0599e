package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/atelierhq/atelier/internal/orchestrator"
)

// buildAskCmd creates the "ask" command: one routed turn, no server.
func buildAskCmd() *cobra.Command {
	var (
		configPath     string
		conversationID string
		tier           string
		useAgent       bool
		freshness      bool
		allowPaid      bool
		asJSON         bool
	)

	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Route a single prompt and print the answer",
		Args:  cobra.MinimumNArgs(1),
		Example: `  # Local-first answer
  atelier ask "what nozzle temperature for PETG"

  # Allow paid escalation and force the frontier tier
  atelier ask --allow-paid --tier frontier "plan a 6-part enclosure"

  # Run the tool agent
  atelier ask --agent "what is the current price of PLA filament"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			core, err := buildCore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer core.close()

			out, err := core.orchestrator.Handle(cmd.Context(), &orchestrator.Inbound{
				ConversationID: conversationID,
				Prompt:         strings.Join(args, " "),
				ForceTier:      tier,
				UseAgent:       useAgent,
				Freshness:      freshness,
				AllowPaid:      allowPaid,
			})
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			fmt.Println(out.Result.Output)
			if out.RequiresConfirmation {
				fmt.Printf("(confirmation required: %s)\n", out.ConfirmationPhrase)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "atelier.yaml", "Path to YAML configuration file")
	cmd.Flags().StringVar(&conversationID, "conversation", "cli", "Conversation id")
	cmd.Flags().StringVar(&tier, "tier", "", "Force a tier: local, web, frontier")
	cmd.Flags().BoolVar(&useAgent, "agent", false, "Run the tool agent loop")
	cmd.Flags().BoolVar(&freshness, "freshness", false, "Require fresh information")
	cmd.Flags().BoolVar(&allowPaid, "allow-paid", false, "Allow paid tier escalation")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full response as JSON")
	return cmd
}
