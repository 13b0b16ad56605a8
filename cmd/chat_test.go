package cmd

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"switchboard/pkg/config"
)

type scriptedConversation struct {
	replies chan string
	sent    []string
	sendErr error
}

func (c *scriptedConversation) Send(_ context.Context, text string) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, text)
	c.replies <- "re: " + text
	return nil
}

func (c *scriptedConversation) Replies() <-chan string {
	return c.replies
}

func TestIsExitCommand(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{input: "exit", want: true},
		{input: " quit ", want: true},
		{input: ":q", want: true},
		{input: "EXIT", want: true},
		{input: "hola", want: false},
		{input: "quit now", want: false},
	}

	for _, tt := range tests {
		if got := isExitCommand(tt.input); got != tt.want {
			t.Fatalf("isExitCommand(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestAgentLines(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantOut []string
	}{
		{name: "single line", input: "hola", wantOut: []string{"hola"}},
		{name: "multi line", input: "uno\ndos", wantOut: []string{"uno", "dos"}},
		{name: "trim outer whitespace", input: "  uno\ndos  ", wantOut: []string{"uno", "dos"}},
		{name: "empty input", input: "   ", wantOut: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := agentLines(tt.input)
			if !reflect.DeepEqual(got, tt.wantOut) {
				t.Fatalf("agentLines(%q) = %#v, want %#v", tt.input, got, tt.wantOut)
			}
		})
	}
}

func TestResolvePrompt(t *testing.T) {
	original := promptText
	t.Cleanup(func() {
		promptText = original
	})

	promptText = " from-flag "
	if got := resolvePrompt([]string{"from", "args"}); got != "from-flag" {
		t.Fatalf("resolvePrompt with flag = %q, want %q", got, "from-flag")
	}

	promptText = ""
	if got := resolvePrompt([]string{"hola", "mundo"}); got != "hola mundo" {
		t.Fatalf("resolvePrompt with args = %q, want %q", got, "hola mundo")
	}

	if got := resolvePrompt(nil); got != "" {
		t.Fatalf("resolvePrompt without input = %q, want empty", got)
	}
}

func TestDefaultGatewayURL(t *testing.T) {
	t.Parallel()

	if got := defaultGatewayURL(config.GatewayConfig{Host: "0.0.0.0", Port: 8000}); got != "http://127.0.0.1:8000" {
		t.Fatalf("defaultGatewayURL = %q", got)
	}
	if got := defaultGatewayURL(config.GatewayConfig{Host: "bot.internal", Port: 9000}); got != "http://bot.internal:9000" {
		t.Fatalf("defaultGatewayURL = %q", got)
	}
}

func TestRunPlainInteractive(t *testing.T) {
	t.Parallel()

	conv := &scriptedConversation{replies: make(chan string, 1)}
	in := strings.NewReader("hola\n\nprecio?\nexit\nignored\n")
	var out bytes.Buffer

	if err := runPlainInteractive(context.Background(), conv, in, &out); err != nil {
		t.Fatalf("runPlainInteractive error: %v", err)
	}

	if !reflect.DeepEqual(conv.sent, []string{"hola", "precio?"}) {
		t.Fatalf("sent = %v", conv.sent)
	}
	if !strings.Contains(out.String(), "🤖 re: hola") || !strings.Contains(out.String(), "🤖 re: precio?") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestRunSinglePromptPropagatesSendError(t *testing.T) {
	t.Parallel()

	conv := &scriptedConversation{replies: make(chan string, 1), sendErr: errors.New("socket closed")}
	err := runSinglePrompt(context.Background(), conv, "hola", &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "socket closed") {
		t.Fatalf("err = %v, want send error", err)
	}
}

func TestExchangeFailsWhenStreamCloses(t *testing.T) {
	t.Parallel()

	replies := make(chan string)
	close(replies)
	conv := &closedConversation{replies: replies}
	if _, err := exchange(context.Background(), conv, "hola"); err == nil {
		t.Fatal("expected error when reply stream is closed")
	}
}

type closedConversation struct {
	replies chan string
}

func (c *closedConversation) Send(context.Context, string) error { return nil }

func (c *closedConversation) Replies() <-chan string { return c.replies }
