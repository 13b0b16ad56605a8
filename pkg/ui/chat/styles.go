package chat

import "github.com/charmbracelet/lipgloss"

// Brand palette, ANSI 256 codes.
const (
	colorInk      = lipgloss.Color("255")
	colorNight    = lipgloss.Color("17")
	colorWater    = lipgloss.Color("31")
	colorFoam     = lipgloss.Color("117")
	colorLeaf     = lipgloss.Color("35")
	colorMint     = lipgloss.Color("121")
	colorAlert    = lipgloss.Color("196")
	colorBlush    = lipgloss.Color("217")
	colorMuted    = lipgloss.Color("245")
	colorPanel    = lipgloss.Color("234")
	colorPanelAlt = lipgloss.Color("236")
)

// customerIndent shifts the customer's turns right of the agent's.
const customerIndent = 4

// roleStyle is the badge and speech bubble for one side of the conversation.
type roleStyle struct {
	badge  lipgloss.Style
	bubble lipgloss.Style
}

type theme struct {
	header     lipgloss.Style
	headerMeta lipgloss.Style
	divider    lipgloss.Style
	boot       lipgloss.Style
	bootDone   lipgloss.Style

	customer roleStyle
	agent    roleStyle
	failure  roleStyle

	status      lipgloss.Style
	statusBusy  lipgloss.Style
	statusErr   lipgloss.Style
	hint        lipgloss.Style
	promptLabel lipgloss.Style
	prompt      lipgloss.Style
	transcript  lipgloss.Style
}

func newRoleStyle(accent lipgloss.Color, text lipgloss.Color, border lipgloss.Border, indent int) roleStyle {
	return roleStyle{
		badge: lipgloss.NewStyle().
			Bold(true).
			MarginLeft(indent).
			Padding(0, 1).
			Foreground(colorNight).
			Background(accent),
		bubble: lipgloss.NewStyle().
			Border(border, false, false, false, true).
			BorderForeground(accent).
			MarginLeft(indent).
			Padding(0, 1).
			Foreground(text),
	}
}

// defaultTheme is the customer-support palette: the customer's turns sit
// indented in water blue, the agent's answers flush left in leaf green.
func defaultTheme() theme {
	return theme{
		header: lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Foreground(colorInk).
			Background(colorWater),
		headerMeta: lipgloss.NewStyle().
			Italic(true).
			Foreground(colorFoam),
		divider: lipgloss.NewStyle().
			Foreground(colorWater),
		boot: lipgloss.NewStyle().
			Foreground(colorFoam),
		bootDone: lipgloss.NewStyle().
			Bold(true).
			Foreground(colorMint),

		customer: newRoleStyle(colorFoam, colorInk, lipgloss.ThickBorder(), customerIndent),
		agent:    newRoleStyle(colorMint, colorMint, lipgloss.ThickBorder(), 0),
		failure:  newRoleStyle(colorBlush, colorBlush, lipgloss.DoubleBorder(), 0),

		status: lipgloss.NewStyle().
			Foreground(colorMuted),
		statusBusy: lipgloss.NewStyle().
			Bold(true).
			Foreground(colorFoam),
		statusErr: lipgloss.NewStyle().
			Bold(true).
			Foreground(colorAlert),
		hint: lipgloss.NewStyle().
			Faint(true).
			Foreground(colorMuted),
		promptLabel: lipgloss.NewStyle().
			Bold(true).
			Foreground(colorFoam),
		prompt: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorWater).
			Background(colorPanelAlt).
			Padding(0, 1),
		transcript: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorNight).
			Background(colorPanel).
			Padding(0, 1),
	}
}
