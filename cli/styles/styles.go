// Package styles provides consistent styling for the sagactl CLI.
// It defines colors and reusable style components.
package styles

import (
	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	Primary      = lipgloss.Color("#0E7490") // Deep cyan
	PrimaryLight = lipgloss.Color("#22D3EE") // Light cyan

	Success = lipgloss.Color("#10B981") // Emerald green
	Warning = lipgloss.Color("#F59E0B") // Amber
	Error   = lipgloss.Color("#EF4444") // Red

	Text      = lipgloss.Color("#F9FAFB") // Almost white
	TextMuted = lipgloss.Color("#9CA3AF") // Gray
	Surface   = lipgloss.Color("#1F2937") // Dark surface
)

// Text styles
var (
	Bold = lipgloss.NewStyle().
		Bold(true)

	// Title style for headers
	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(Primary).
		MarginBottom(1)

	// Subtitle for secondary headers
	Subtitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryLight)

	// Muted text for less important info
	Muted = lipgloss.NewStyle().
		Foreground(TextMuted)

	// Code style for inline code
	Code = lipgloss.NewStyle().
		Foreground(PrimaryLight).
		Background(Surface).
		Padding(0, 1)

	// Header style for table headers
	Header = lipgloss.NewStyle().
		Bold(true).
		Foreground(TextMuted)
)

// Status styles
var (
	SuccessStyle = lipgloss.NewStyle().
			Foreground(Success)

	WarningStyle = lipgloss.NewStyle().
			Foreground(Warning)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Error)
)

// FormatSuccess formats a success message with a check mark.
func FormatSuccess(msg string) string {
	return SuccessStyle.Render("✓ " + msg)
}

// FormatWarning formats a warning message.
func FormatWarning(msg string) string {
	return WarningStyle.Render("! " + msg)
}

// FormatError formats an error message.
func FormatError(msg string) string {
	return ErrorStyle.Render("✗ " + msg)
}

// DisableColors turns off all color rendering.
func DisableColors() {
	noop := lipgloss.NewStyle()
	Bold = noop.Bold(true)
	Title = noop.Bold(true)
	Subtitle = noop.Bold(true)
	Muted = noop
	Code = noop
	Header = noop.Bold(true)
	SuccessStyle = noop
	WarningStyle = noop
	ErrorStyle = noop
}

// StatusStyle returns the style matching a saga status name.
func StatusStyle(status string) lipgloss.Style {
	switch status {
	case "completed":
		return SuccessStyle
	case "failed":
		return ErrorStyle
	case "compensating", "compensated":
		return WarningStyle
	default:
		return Muted
	}
}
