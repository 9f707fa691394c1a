package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codeweaver-ai/llm-bridge-go/internal/bridge"
	"github.com/codeweaver-ai/llm-bridge-go/internal/chat"
)

var (
	chatAgent       string
	chatStream      bool
	chatSystem      string
	chatTemperature float64
	chatMaxTokens   int
	chatTimeout     time.Duration
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Send a message to a configured agent",
	Long:  `Send a single message to a configured agent and print the response, optionally streaming deltas as they arrive.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatAgent, "agent", "a", "", "agent name from configuration (defaults to the configured default)")
	chatCmd.Flags().BoolVarP(&chatStream, "stream", "s", false, "stream the response")
	chatCmd.Flags().StringVar(&chatSystem, "system", "", "system directive to prepend")
	chatCmd.Flags().Float64VarP(&chatTemperature, "temperature", "t", 0, "sampling temperature (0 uses agent default)")
	chatCmd.Flags().IntVar(&chatMaxTokens, "max-tokens", 0, "maximum completion tokens (0 uses agent default)")
	chatCmd.Flags().DurationVar(&chatTimeout, "timeout", 0, "request timeout (0 uses agent default)")
}

func runChat(cmd *cobra.Command, args []string) error {
	agent, err := cfgMgr.Get().Agent(chatAgent)
	if err != nil {
		return err
	}

	b, err := bridge.New(agent, bridge.WithLogger(logger))
	if err != nil {
		return err
	}

	var messages []chat.Message
	if chatSystem != "" {
		messages = append(messages, chat.Message{Role: chat.RoleSystem, Content: chatSystem})
	}
	messages = append(messages, chat.Message{
		Role:    chat.RoleUser,
		Content: strings.Join(args, " "),
	})

	opts := chat.RequestOptions{
		Temperature: chatTemperature,
		MaxTokens:   chatMaxTokens,
		Timeout:     chatTimeout,
		Stream:      chatStream,
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var resp *chat.Response
	if chatStream {
		resp, err = b.StreamMessage(ctx, messages, func(delta string, isComplete bool) {
			if delta != "" {
				fmt.Print(delta)
			}
			if isComplete {
				fmt.Println()
			}
		}, opts)
	} else {
		resp, err = b.SendMessage(ctx, messages, opts)
		if err == nil {
			fmt.Println(resp.Content)
		}
	}
	if err != nil {
		return err
	}

	if resp.Usage != nil {
		color.Cyan("tokens: %d prompt + %d completion = %d total",
			resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens)
	}
	if len(resp.ToolCalls) > 0 {
		color.Yellow("model requested %d tool call(s); no executor is wired in the CLI", len(resp.ToolCalls))
	}

	return nil
}
