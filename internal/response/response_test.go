package response

import (
	"fmt"
	"strings"
	"testing"
)

func TestParseText(t *testing.T) {
	got := Parse(`{"type":"text","content":{"text":"Hello!"}}`, "conv-1", "resp-1", nil)

	if got.Type != TypeText {
		t.Fatalf("type = %q", got.Type)
	}
	content := got.Content.(TextContent)
	if content.Text != "Hello!" {
		t.Errorf("text = %q", content.Text)
	}
	if got.ConversationID != "conv-1" || got.ResponseID != "resp-1" {
		t.Errorf("ids = %q, %q", got.ConversationID, got.ResponseID)
	}
}

func TestParseNotJSON(t *testing.T) {
	got := Parse("not json", "conv-1", "resp-1", nil)

	if got.Type != TypeText {
		t.Fatalf("type = %q, want text fallback", got.Type)
	}
	content := got.Content.(TextContent)
	if !strings.Contains(content.Text, "sorry") {
		t.Errorf("fallback text = %q, want an apology", content.Text)
	}
}

func TestParseUnknownType(t *testing.T) {
	got := Parse(`{"type":"carousel","content":{}}`, "conv-1", "resp-1", nil)

	if got.Type != TypeText {
		t.Fatalf("type = %q, want text fallback", got.Type)
	}
	content := got.Content.(TextContent)
	if !strings.Contains(content.Text, "response type") {
		t.Errorf("fallback text = %q", content.Text)
	}
}

func TestParseButton(t *testing.T) {
	raw := `{
		"type": "button",
		"content": {
			"body": {"text": "Book an appointment?"},
			"action": {"buttons": [
				{"reply": {"id": "yes", "title": "Yes"}},
				{"reply": {"id": "no", "title": "No"}}
			]}
		}
	}`
	got := Parse(raw, "conv-1", "resp-1", nil)

	if got.Type != TypeButton {
		t.Fatalf("type = %q", got.Type)
	}
	content := got.Content.(ButtonContent)
	if content.Body.Text != "Book an appointment?" {
		t.Errorf("body = %q", content.Body.Text)
	}
	if len(content.Action.Buttons) != 2 || content.Action.Buttons[0].Reply.ID != "yes" {
		t.Errorf("buttons = %+v", content.Action.Buttons)
	}
}

func TestParseButtonTruncatesAndDefaults(t *testing.T) {
	var buttons []string
	for i := 0; i < 5; i++ {
		buttons = append(buttons, `{"reply":{"id":"","title":""}}`)
	}
	raw := fmt.Sprintf(`{"type":"button","content":{"action":{"buttons":[%s]}}}`,
		strings.Join(buttons, ","))

	got := Parse(raw, "conv-1", "resp-1", nil)
	content := got.Content.(ButtonContent)

	if len(content.Action.Buttons) != MaxButtons {
		t.Fatalf("buttons = %d, want %d", len(content.Action.Buttons), MaxButtons)
	}
	if content.Action.Buttons[1].Reply.ID != "button_1" || content.Action.Buttons[1].Reply.Title != "Option" {
		t.Errorf("defaults = %+v", content.Action.Buttons[1])
	}
	if content.Body.Text != "Please select an option:" {
		t.Errorf("default body = %q", content.Body.Text)
	}
}

func TestParseList(t *testing.T) {
	raw := `{
		"type": "list",
		"content": {
			"body": {"text": "Doctors found:"},
			"action": {
				"button": "View Doctors",
				"sections": [{
					"title": "City Hospital",
					"rows": [
						{"id": "d1-cardio", "title": "Dr. Hany", "description": "Cardiologist, 4th floor"}
					]
				}]
			}
		}
	}`
	got := Parse(raw, "conv-1", "resp-1", nil)

	if got.Type != TypeList {
		t.Fatalf("type = %q", got.Type)
	}
	content := got.Content.(ListContent)
	if content.Action.Button != "View Doctors" {
		t.Errorf("button = %q", content.Action.Button)
	}
	if len(content.Action.Sections) != 1 || content.Action.Sections[0].Rows[0].ID != "d1-cardio" {
		t.Errorf("sections = %+v", content.Action.Sections)
	}
}

func TestParseListTruncatesRows(t *testing.T) {
	var rows []string
	for i := 0; i < 15; i++ {
		rows = append(rows, fmt.Sprintf(`{"id":"r%d","title":"T%d","description":""}`, i, i))
	}
	raw := fmt.Sprintf(`{"type":"list","content":{"action":{"sections":[{"title":"S","rows":[%s]}]}}}`,
		strings.Join(rows, ","))

	got := Parse(raw, "conv-1", "resp-1", nil)
	content := got.Content.(ListContent)

	if n := len(content.Action.Sections[0].Rows); n != MaxRowsSection {
		t.Fatalf("rows = %d, want %d", n, MaxRowsSection)
	}
	if content.Action.Sections[0].Rows[0].ID != "r0" {
		t.Errorf("truncation should keep the head, got %+v", content.Action.Sections[0].Rows[0])
	}
}

func TestParseCallToAction(t *testing.T) {
	raw := `{
		"type": "call_to_action",
		"content": {"parameters": {"display_text": "Open booking page", "url": "https://example.com/book"}}
	}`
	got := Parse(raw, "conv-1", "resp-1", nil)

	if got.Type != TypeCallToAction {
		t.Fatalf("type = %q", got.Type)
	}
	content := got.Content.(CallToActionContent)
	if content.Name != "cta_url" {
		t.Errorf("name = %q", content.Name)
	}
	if content.Parameters.URL != "https://example.com/book" {
		t.Errorf("url = %q", content.Parameters.URL)
	}
}

func TestParseCallToActionMissingURL(t *testing.T) {
	raw := `{"type":"call_to_action","content":{"parameters":{"display_text":"Open"}}}`
	got := Parse(raw, "conv-1", "resp-1", nil)

	if got.Type != TypeText {
		t.Fatalf("type = %q, want text fallback when URL is missing", got.Type)
	}
	content := got.Content.(TextContent)
	if !strings.Contains(content.Text, "URL is missing") {
		t.Errorf("fallback text = %q", content.Text)
	}
}
