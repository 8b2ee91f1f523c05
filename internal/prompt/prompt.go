// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package prompt builds the chat conversation sent upstream for one
// interpretation attempt.
package prompt

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/jeranaias/bazi-destiny/internal/upstream"
)

// Conversation is the complete ordered prompt for one upstream call.
// Build returns a fresh value every time; nothing edits a Conversation
// after it is built.
type Conversation []upstream.Message

// Headings are the section titles the model is asked to write. They line up
// with the topics the segment package recognizes.
var Headings = []string{
	"Personality",
	"Marriage & Relationships",
	"Career",
	"Health",
	"Wealth",
	"Remedies",
	"Action Checklist",
	"Luck Cycles Forecast",
}

const systemPrompt = "You are a Bazi expert who explains Four Pillars for non-Chinese audiences in simple, friendly English. " +
	"Use short paragraphs with gentle, reflective tone from ancient Eastern philosophy. " +
	"Avoid fatalistic claims; emphasize personal agency and balance."

const continueInstruction = "The previous answer was cut off. Continue exactly where it stopped. " +
	"Do not repeat, summarize or restart anything already written; " +
	"if the cut happened mid-sentence, finish that sentence first."

// Build assembles the conversation for a chart.
//
// chart must be the JSON chart payload as returned by the chart endpoint.
// A non-empty continuation adds the partial answer as an assistant turn
// followed by a request to carry on from its last character.
func Build(chart json.RawMessage, name, continuation string) Conversation {
	conv := Conversation{
		upstream.NewSystemMessage(systemPrompt),
		upstream.NewUserMessage(userPrompt(chart, name)),
	}
	if strings.TrimSpace(continuation) != "" {
		conv = append(conv,
			upstream.NewAssistantMessage(continuation),
			upstream.NewUserMessage(continueInstruction),
		)
	}
	return conv
}

func userPrompt(chart json.RawMessage, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "N/A"
	}

	var b strings.Builder
	b.WriteString("Person's name: " + name + ".\n")
	b.WriteString("Write sections as markdown headings that start with '### ', in this order: ")
	b.WriteString(strings.Join(Headings, ", "))
	b.WriteString(". ")
	b.WriteString("Explain dominant Five Elements and Ten Gods briefly (plain English definitions). ")
	b.WriteString("If luck cycles exist, summarize the next 3 decades. ")
	b.WriteString("Close with a short reflection: 'there is wonder in all things.'\n\n")
	b.WriteString("Chart JSON:\n")
	b.Write(compact(chart))
	return b.String()
}

// compact strips insignificant whitespace so the prompt stays small; input
// that fails to compact is sent as is.
func compact(raw json.RawMessage) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}
