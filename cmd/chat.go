package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"switchboard/pkg/channel/web"
	"switchboard/pkg/config"
	"switchboard/pkg/ui/chat"
)

const replyTimeout = 2 * time.Minute

var (
	promptText  string
	gatewayURL  string
	chatClient  string
	chatName    string
	plainOutput bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Chat with a running gateway over the web channel",
	Long:  "Connects to the gateway websocket as a web client and sends one message or starts an interactive chat.",
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := resolvePrompt(args)

		base := strings.TrimSpace(gatewayURL)
		if base == "" {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			base = defaultGatewayURL(cfg.Gateway)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		client, err := web.Dial(ctx, base, chatClient, chatName, nil)
		if err != nil {
			return err
		}
		defer client.Close()

		info := chat.RuntimeInfo{Gateway: base, ClientID: client.ID, UserName: chatName}

		if plainOutput {
			if prompt != "" {
				return runSinglePrompt(ctx, client, prompt, cmd.OutOrStdout())
			}
			return runPlainInteractive(ctx, client, cmd.InOrStdin(), cmd.OutOrStdout())
		}

		if prompt != "" {
			return chat.RunOneShot(ctx, client, prompt, info)
		}
		return chat.RunInteractive(ctx, client, info)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVarP(&promptText, "prompt", "p", "", "message text to send")
	chatCmd.Flags().StringVar(&gatewayURL, "gateway", "", "gateway base URL (defaults to the configured bind address)")
	chatCmd.Flags().StringVar(&chatClient, "client-id", "", "client id to register (random when empty)")
	chatCmd.Flags().StringVar(&chatName, "name", "", "display name sent with each message")
	chatCmd.Flags().BoolVar(&plainOutput, "plain", false, "line-oriented output instead of the full-screen UI")
}

func defaultGatewayURL(cfg config.GatewayConfig) string {
	host := strings.TrimSpace(cfg.Host)
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}

	port := cfg.Port
	if port <= 0 {
		port = 8000
	}

	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

func resolvePrompt(args []string) string {
	if value := strings.TrimSpace(promptText); value != "" {
		return value
	}

	if len(args) == 0 {
		return ""
	}

	return strings.TrimSpace(strings.Join(args, " "))
}

// conversation is the client surface the plain-mode loops need.
type conversation interface {
	Send(ctx context.Context, text string) error
	Replies() <-chan string
}

func runSinglePrompt(ctx context.Context, client conversation, prompt string, out io.Writer) error {
	reply, err := exchange(ctx, client, prompt)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, reply)
	return nil
}

func runPlainInteractive(ctx context.Context, client conversation, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)

	for {
		fmt.Fprint(out, "👤 ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			return nil
		}

		prompt := strings.TrimSpace(scanner.Text())
		if prompt == "" {
			continue
		}
		if isExitCommand(prompt) {
			return nil
		}

		reply, err := exchange(ctx, client, prompt)
		if err != nil {
			return err
		}

		printAgentMessage(out, reply)
	}
}

// exchange sends one message and waits for the next reply.
func exchange(ctx context.Context, client conversation, prompt string) (string, error) {
	if err := client.Send(ctx, prompt); err != nil {
		return "", err
	}

	timer := time.NewTimer(replyTimeout)
	defer timer.Stop()

	select {
	case reply, ok := <-client.Replies():
		if !ok {
			return "", fmt.Errorf("connection closed before a reply arrived")
		}
		return reply, nil
	case <-timer.C:
		return "", fmt.Errorf("no reply within %s", replyTimeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func printAgentMessage(out io.Writer, message string) {
	lines := agentLines(message)
	for _, line := range lines {
		fmt.Fprintf(out, "🤖 %s\n", line)
	}
	if len(lines) > 0 {
		fmt.Fprintln(out)
	}
}

func agentLines(message string) []string {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return nil
	}

	return strings.Split(trimmed, "\n")
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "quit", ":q":
		return true
	default:
		return false
	}
}
