// Package response defines the channel-ready structured response shapes the
// model is asked to produce, and parsing from raw model output into them.
package response

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// Type discriminates the response shapes.
type Type string

const (
	TypeText         Type = "text"
	TypeButton       Type = "button"
	TypeList         Type = "list"
	TypeCallToAction Type = "call_to_action"
)

// Channel caps. Interactive messages reject payloads over these limits,
// so oversized model output is truncated rather than bounced.
const (
	MaxButtons     = 3
	MaxRowsSection = 10
)

// Structured is the response returned to the caller. Content holds one of
// TextContent, ButtonContent, ListContent, or CallToActionContent, matching
// Type.
type Structured struct {
	Type           Type   `json:"type"`
	Content        any    `json:"content"`
	ResponseID     string `json:"response_id"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// TextContent is a plain text reply.
type TextContent struct {
	Text string `json:"text"`
}

// Body is the text body shared by button and list replies.
type Body struct {
	Text string `json:"text"`
}

// ButtonReply identifies one tappable button.
type ButtonReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Button wraps a reply option.
type Button struct {
	Reply ButtonReply `json:"reply"`
}

// ButtonAction holds the button choices.
type ButtonAction struct {
	Buttons []Button `json:"buttons"`
}

// ButtonContent is an interactive reply with up to MaxButtons choices.
type ButtonContent struct {
	Body   Body         `json:"body"`
	Action ButtonAction `json:"action"`
}

// ListRow is one selectable row in a list reply.
type ListRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// ListSection groups rows under a title, typically one hospital or lab.
type ListSection struct {
	Title string    `json:"title"`
	Rows  []ListRow `json:"rows"`
}

// ListAction holds the list button label and its sections.
type ListAction struct {
	Button   string        `json:"button"`
	Sections []ListSection `json:"sections"`
}

// ListContent is an interactive list reply.
type ListContent struct {
	Body   Body       `json:"body"`
	Action ListAction `json:"action"`
}

// CallToActionParameters carries the link of a call-to-action reply.
type CallToActionParameters struct {
	DisplayText string `json:"display_text"`
	URL         string `json:"url"`
}

// CallToActionContent is a single-link reply.
type CallToActionContent struct {
	Name       string                 `json:"name"`
	Parameters CallToActionParameters `json:"parameters"`
}

// NewText builds a plain text response.
func NewText(text, conversationID, responseID string) Structured {
	return Structured{
		Type:           TypeText,
		Content:        TextContent{Text: text},
		ResponseID:     responseID,
		ConversationID: conversationID,
	}
}

// rawEnvelope mirrors the JSON shape the model is instructed to emit. All
// fields are optional; Parse fills defaults for anything missing.
type rawEnvelope struct {
	Type    string `json:"type"`
	Content struct {
		Text   string `json:"text"`
		Body   Body   `json:"body"`
		Action struct {
			Buttons  []Button      `json:"buttons"`
			Button   string        `json:"button"`
			Sections []ListSection `json:"sections"`
		} `json:"action"`
		Parameters CallToActionParameters `json:"parameters"`
	} `json:"content"`
}

// Parse converts raw model output into a structured response. Malformed
// output never fails: it degrades to a text response, apologetic when the
// payload was unusable.
func Parse(raw, conversationID, responseID string, logger *slog.Logger) Structured {
	if logger == nil {
		logger = slog.Default()
	}

	var envelope rawEnvelope
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		logger.Warn("model output is not valid JSON, falling back to text",
			"conversation_id", conversationID, "error", err)
		return NewText("I'm sorry, I couldn't generate a proper response.", conversationID, responseID)
	}

	switch Type(envelope.Type) {
	case TypeText:
		text := envelope.Content.Text
		if text == "" {
			text = "I'm sorry, I couldn't generate a proper response."
		}
		return NewText(text, conversationID, responseID)

	case TypeButton:
		return parseButton(envelope, conversationID, responseID, logger)

	case TypeList:
		return parseList(envelope, conversationID, responseID, logger)

	case TypeCallToAction:
		return parseCallToAction(envelope, conversationID, responseID, logger)

	default:
		logger.Warn("unknown response type from model",
			"conversation_id", conversationID, "type", envelope.Type)
		return NewText("I'm sorry, I don't understand the response type.", conversationID, responseID)
	}
}

func parseButton(envelope rawEnvelope, conversationID, responseID string, logger *slog.Logger) Structured {
	bodyText := envelope.Content.Body.Text
	if bodyText == "" {
		bodyText = "Please select an option:"
	}

	buttons := envelope.Content.Action.Buttons
	if len(buttons) == 0 {
		logger.Warn("button response has no buttons", "conversation_id", conversationID)
	}
	if len(buttons) > MaxButtons {
		logger.Warn("truncating button response", "conversation_id", conversationID, "buttons", len(buttons))
		buttons = buttons[:MaxButtons]
	}
	for i := range buttons {
		if buttons[i].Reply.ID == "" {
			buttons[i].Reply.ID = fmt.Sprintf("button_%d", i)
		}
		if buttons[i].Reply.Title == "" {
			buttons[i].Reply.Title = "Option"
		}
	}

	return Structured{
		Type: TypeButton,
		Content: ButtonContent{
			Body:   Body{Text: bodyText},
			Action: ButtonAction{Buttons: buttons},
		},
		ResponseID:     responseID,
		ConversationID: conversationID,
	}
}

func parseList(envelope rawEnvelope, conversationID, responseID string, logger *slog.Logger) Structured {
	bodyText := envelope.Content.Body.Text
	if bodyText == "" {
		bodyText = "Here are the available options:"
	}
	buttonText := envelope.Content.Action.Button
	if buttonText == "" {
		buttonText = "View List"
	}

	sections := envelope.Content.Action.Sections
	if len(sections) == 0 {
		logger.Warn("list response has no sections", "conversation_id", conversationID)
	}
	for i := range sections {
		if sections[i].Title == "" {
			sections[i].Title = "Options"
		}
		if len(sections[i].Rows) == 0 {
			logger.Warn("list section has no rows",
				"conversation_id", conversationID, "section", sections[i].Title)
		}
		if len(sections[i].Rows) > MaxRowsSection {
			logger.Warn("truncating list section",
				"conversation_id", conversationID, "section", sections[i].Title, "rows", len(sections[i].Rows))
			sections[i].Rows = sections[i].Rows[:MaxRowsSection]
		}
		for j := range sections[i].Rows {
			if sections[i].Rows[j].ID == "" {
				sections[i].Rows[j].ID = fmt.Sprintf("row_%d", j)
			}
			if sections[i].Rows[j].Title == "" {
				sections[i].Rows[j].Title = "Item"
			}
		}
	}

	return Structured{
		Type: TypeList,
		Content: ListContent{
			Body:   Body{Text: bodyText},
			Action: ListAction{Button: buttonText, Sections: sections},
		},
		ResponseID:     responseID,
		ConversationID: conversationID,
	}
}

func parseCallToAction(envelope rawEnvelope, conversationID, responseID string, logger *slog.Logger) Structured {
	params := envelope.Content.Parameters
	if params.URL == "" {
		logger.Error("call to action response is missing a URL", "conversation_id", conversationID)
		return NewText("I tried to provide a link, but the URL is missing. Please try again.",
			conversationID, responseID)
	}
	if params.DisplayText == "" {
		params.DisplayText = "Click here"
	}

	return Structured{
		Type: TypeCallToAction,
		Content: CallToActionContent{
			Name:       "cta_url",
			Parameters: params,
		},
		ResponseID:     responseID,
		ConversationID: conversationID,
	}
}
