package chat

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// RunInteractive opens the full-screen chat until the user quits.
func RunInteractive(ctx context.Context, conversation Conversation, info RuntimeInfo) error {
	model := newModel(ctx, conversation, modeInteractive, "", info)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil {
		return err
	}

	fmt.Println(renderGoodbyeBanner())
	return nil
}

// RunOneShot sends prompt and waits for the first reply.
func RunOneShot(ctx context.Context, conversation Conversation, prompt string, info RuntimeInfo) error {
	model := newModel(ctx, conversation, modeOneShot, prompt, info)
	program := tea.NewProgram(model, tea.WithContext(ctx))
	_, err := program.Run()
	return err
}

func renderGoodbyeBanner() string {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("230")).
		Background(lipgloss.Color("88")).
		Padding(1, 2)

	return style.Render("👋 Gracias por escribirnos")
}
