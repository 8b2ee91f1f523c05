// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// styles.go - Shared styling for the bazi CLI.
//
// Colour handling follows terminal.go: colours are dropped for piped
// output and when NO_COLOR is set.

package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/bazi-destiny/internal/chart"
)

// init configures the lipgloss colour profile from terminal capabilities.
func init() {
	lipgloss.SetColorProfile(GetColorProfile())
}

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	// TitleStyle is used for command titles and headers
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")). // Cyan
			MarginBottom(1)

	// SectionStyle is used for section headers within a chart
	SectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("255")).
			MarginTop(1)

	// LabelStyle is used for field labels
	LabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")). // Light gray
			Width(20)

	// ValueStyle is used for the value beside a label
	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")). // Red
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	// DimStyle is used for hints and secondary information
	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))

	SeparatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")). // Green
			Bold(true)
)

// elementColors tints element names in chart output.
var elementColors = map[chart.Element]lipgloss.Color{
	chart.Wood:  lipgloss.Color("34"),
	chart.Fire:  lipgloss.Color("196"),
	chart.Earth: lipgloss.Color("178"),
	chart.Metal: lipgloss.Color("250"),
	chart.Water: lipgloss.Color("33"),
}

// =============================================================================
// HELPERS
// =============================================================================

// RenderSeparator renders a horizontal separator line, 70 wide by default.
func RenderSeparator(width ...int) string {
	w := 70
	if len(width) > 0 && width[0] > 0 {
		w = width[0]
	}
	return SeparatorStyle.Render(strings.Repeat("=", w))
}

// RenderLabel renders a label with consistent width.
func RenderLabel(label string, width ...int) string {
	if len(width) > 0 && width[0] > 0 {
		return LabelStyle.Copy().Width(width[0]).Render(label)
	}
	return LabelStyle.Render(label)
}

// RenderField renders a padded label followed by its value.
func RenderField(label, value string, width int) string {
	return RenderLabel(label, width) + RenderConditional(ValueStyle, value)
}

// RenderConditional renders text with style if colours are enabled,
// otherwise returns the text unmodified.
func RenderConditional(style lipgloss.Style, text string) string {
	if !ColorsEnabled() {
		return text
	}
	return style.Render(text)
}

// RenderElement colours an element name.
func RenderElement(e chart.Element) string {
	c, ok := elementColors[e]
	if !ok {
		return string(e)
	}
	return RenderConditional(lipgloss.NewStyle().Foreground(c), string(e))
}
