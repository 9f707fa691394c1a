package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codeweaver-ai/llm-bridge-go/internal/config"
	"github.com/codeweaver-ai/llm-bridge-go/internal/providers"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the bridge's agent configuration.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration interactively",
	Long:  `Initialize configuration by prompting for agent details.`,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration with secrets masked.`,
	RunE:  runConfigShow,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	color.Blue("LLM Bridge Configuration Setup")
	color.Yellow("Follow the prompts to configure an agent.")

	reader := bufio.NewReader(os.Stdin)

	fmt.Print("\nAgent name (e.g., default, coder): ")
	name, _ := reader.ReadString('\n')
	name = strings.TrimSpace(name)
	if name == "" {
		name = "default"
	}

	fmt.Print("Provider (openai, anthropic, ollama, custom): ")
	provider, _ := reader.ReadString('\n')
	provider = strings.TrimSpace(provider)
	if !providers.Known(provider) {
		return fmt.Errorf("unknown provider %q", provider)
	}

	fmt.Print("Model: ")
	model, _ := reader.ReadString('\n')
	model = strings.TrimSpace(model)

	fmt.Print("API Key (empty for local providers): ")
	apiKey, _ := reader.ReadString('\n')
	apiKey = strings.TrimSpace(apiKey)

	fmt.Print("Endpoint (empty for the provider default): ")
	endpoint, _ := reader.ReadString('\n')
	endpoint = strings.TrimSpace(endpoint)

	cfg := cfgMgr.Get()
	if cfg.Agents == nil {
		cfg.Agents = make(map[string]config.Agent)
	}
	cfg.Agents[name] = config.Agent{
		Provider: provider,
		Model:    model,
		APIKey:   apiKey,
		Endpoint: endpoint,
	}
	if cfg.Default == "" {
		cfg.Default = name
	}

	if err := cfgMgr.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	color.Green("Configuration saved successfully to: %s", cfgMgr.GetPath())
	color.Cyan("Try it with: llmb validate %s", name)

	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		color.Yellow("No configuration found. Run 'llmb config init' to create one.")
		return nil
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	color.Blue("Current Configuration:")
	fmt.Printf("  %-12s: %s\n", "Default", cfg.Default)
	fmt.Printf("  %-12s: %s\n", "Config Path", cfgMgr.GetPath())

	fmt.Println("\nAgents:")
	for name, agent := range cfg.Agents {
		fmt.Printf("  - Name: %s\n", name)
		fmt.Printf("    Provider: %s\n", agent.Provider)
		fmt.Printf("    Model: %s\n", agent.Model)
		fmt.Printf("    API Key: %s\n", maskString(agent.APIKey))
		if agent.Endpoint != "" {
			fmt.Printf("    Endpoint: %s\n", agent.Endpoint)
		}
		fmt.Println()
	}

	return nil
}

func maskString(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
