package cmd

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codeweaver-ai/llm-bridge-go/internal/bridge"
)

var validateCmd = &cobra.Command{
	Use:   "validate [agent]",
	Short: "Check connectivity and credentials for configured agents",
	Long:  `Issue a minimal probe request per agent and report whether the endpoint is reachable and the credentials are usable.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg := cfgMgr.Get()
	if len(cfg.Agents) == 0 {
		color.Yellow("No agents configured. Run 'llmb config init' first.")
		return nil
	}

	names := make([]string, 0, len(cfg.Agents))
	if len(args) == 1 {
		if _, ok := cfg.Agents[args[0]]; !ok {
			return fmt.Errorf("agent %q not found in configuration", args[0])
		}
		names = append(names, args[0])
	} else {
		for name := range cfg.Agents {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	failures := 0
	for _, name := range names {
		agent := cfg.Agents[name]

		b, err := bridge.New(agent, bridge.WithLogger(logger))
		if err != nil {
			color.Red("  %-12s %s: %v", name, agent.Provider, err)
			failures++
			continue
		}

		start := time.Now()
		ok, reason := b.ValidateConnection(ctx)
		elapsed := time.Since(start).Round(time.Millisecond)

		if ok {
			color.Green("  %-12s %s/%s reachable (%s)", name, agent.Provider, agent.Model, elapsed)
		} else {
			color.Red("  %-12s %s/%s unreachable: %s", name, agent.Provider, agent.Model, reason)
			failures++
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d agent(s) failed validation", failures)
	}
	return nil
}
