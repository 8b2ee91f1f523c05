// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package segment splits a finished reading into titled display sections.
package segment

import (
	"regexp"
	"sort"
	"strings"
)

// Topic is the display category of a section.
type Topic int

// Topics in display order.
const (
	Overview Topic = iota
	Marriage
	Career
	Health
	Wealth
	Remedies
	ActionChecklist
	Forecast
	Other
	// Reading is used alone, when the text has no headings at all.
	Reading
)

var topicNames = map[Topic]string{
	Overview:        "Overview",
	Marriage:        "Marriage & Compatibility",
	Career:          "Career",
	Health:          "Health",
	Wealth:          "Wealth",
	Remedies:        "Remedies",
	ActionChecklist: "Action Checklist",
	Forecast:        "Forecast",
	Other:           "Other",
	Reading:         "Reading",
}

// String returns the display name of the topic.
func (t Topic) String() string {
	if name, ok := topicNames[t]; ok {
		return name
	}
	return "Unknown"
}

// Section is one display block.
type Section struct {
	Topic Topic
	// Title is the canonical topic name, or the heading text for Other.
	Title string
	Body  string
}

// keyword rules, first match wins.
var rules = []struct {
	topic    Topic
	keywords []string
}{
	{Marriage, []string{"marriage", "relationship", "compat"}},
	{Career, []string{"career", "work"}},
	{Health, []string{"health"}},
	{Wealth, []string{"wealth", "money", "finance"}},
	{Remedies, []string{"remed", "feng shui", "color"}},
	{ActionChecklist, []string{"action", "checklist", "plan"}},
	{Forecast, []string{"luck", "cycle", "forecast", "year"}},
}

// headingPattern matches a "### Title" line. Deeper or shallower headings
// stay part of the body.
var headingPattern = regexp.MustCompile(`^###\s+(.*?)\s*$`)

// Classify maps a heading title to a topic.
func Classify(title string) Topic {
	lower := strings.ToLower(title)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return r.topic
			}
		}
	}
	return Other
}

// Segment splits text on "###" headings.
//
// Text before the first heading becomes Overview (when non-blank). The
// result lists Overview first, then sections in topic order; sections of
// the same topic keep their original order. Text with no headings yields a
// single Reading section, and blank text yields nil.
func Segment(text string) []Section {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var (
		sections []Section
		current  *Section
		body     strings.Builder
		lead     strings.Builder
		found    bool
	)

	flush := func() {
		if current != nil {
			current.Body = strings.TrimSpace(body.String())
			sections = append(sections, *current)
		}
		body.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		if m := headingPattern.FindStringSubmatch(strings.TrimRight(line, "\r")); m != nil {
			flush()
			found = true
			title := m[1]
			topic := Classify(title)
			if topic != Other {
				title = topic.String()
			}
			current = &Section{Topic: topic, Title: title}
			continue
		}
		if current == nil {
			lead.WriteString(line)
			lead.WriteByte('\n')
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	flush()

	if !found {
		return []Section{{Topic: Reading, Title: Reading.String(), Body: strings.TrimSpace(text)}}
	}

	if intro := strings.TrimSpace(lead.String()); intro != "" {
		sections = append([]Section{{Topic: Overview, Title: Overview.String(), Body: intro}}, sections...)
	}

	sort.SliceStable(sections, func(i, j int) bool {
		return sections[i].Topic < sections[j].Topic
	})
	return sections
}
