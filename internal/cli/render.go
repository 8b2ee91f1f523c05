// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/bazi-destiny/internal/segment"
)

// sectionsMarkdown lays sections out as markdown, one level-two heading
// per section.
func sectionsMarkdown(sections []segment.Section) string {
	var b strings.Builder
	for i, s := range sections {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("## " + s.Title + "\n\n")
		if s.Body != "" {
			b.WriteString(s.Body + "\n")
		}
	}
	return b.String()
}

// renderSections renders a segmented reading for the terminal. styled
// selects glamour's auto style; otherwise the notty style keeps the output
// free of escape sequences.
func renderSections(sections []segment.Section, width int, styled bool) (string, error) {
	if len(sections) == 0 {
		return "", nil
	}
	style := glamour.WithStandardStyle("notty")
	if styled {
		style = glamour.WithAutoStyle()
	}
	r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
	if err != nil {
		return "", err
	}
	return r.Render(sectionsMarkdown(sections))
}
