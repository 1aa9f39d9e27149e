// Package track derives lightweight conversation state from message traffic.
// The state is a heuristic summary (keyword mentions, topics, cached lookup
// results) that the completion engine can consult without replaying history.
package track

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/careline-ai/careline/internal/llm"
)

// State is the derived per-conversation state. It is persisted alongside the
// message log and updated on every append.
type State struct {
	LastMessageType         string            `json:"last_message_type"`
	MentionedProviderSearch bool              `json:"mentioned_provider_search"`
	MentionedSymptoms       []string          `json:"mentioned_symptoms"`
	TopicsDiscussed         []string          `json:"topics_discussed"`
	ResultCache             map[string]string `json:"search_results"`
	SearchCount             int               `json:"search_count"`
	LastSearchParams        map[string]any    `json:"last_search_params,omitempty"`
	LastSearchTime          time.Time         `json:"last_search_time,omitzero"`
}

// NewState returns an empty state with initialized collections.
func NewState() *State {
	return &State{
		MentionedSymptoms: []string{},
		TopicsDiscussed:   []string{},
		ResultCache:       map[string]string{},
	}
}

// Vocabulary holds the keyword lists that drive derivation.
type Vocabulary struct {
	// SearchKeywords mark a user message as provider-search intent.
	SearchKeywords []string
	// SymptomKeywords flag sentences worth remembering as symptom mentions.
	SymptomKeywords []string
	// HealthTopics are tracked as discussed topics when they appear.
	HealthTopics []string
}

// DefaultVocabulary returns the built-in keyword lists.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		SearchKeywords: []string{"doctor", "specialist", "physician", "hospital", "medical"},
		SymptomKeywords: []string{
			"symptom", "pain", "ache", "fever", "cough", "sick", "ill",
		},
		HealthTopics: []string{
			"headache", "migraine", "pain", "fever", "cough", "cold", "flu",
			"allergy", "diabetes", "heart", "blood pressure", "skin", "rash",
			"stomach", "digestion", "mental health", "anxiety", "depression",
			"pregnancy", "eye", "vision", "ear", "hearing", "vaccination",
			"nutrition", "diet", "exercise", "sleep", "stress", "cancer",
			"smoking", "alcohol", "medication", "prescription", "surgery",
			"injury", "infection", "disease", "condition", "treatment",
		},
	}
}

// Apply updates the state in place based on one appended message.
// lookupTool is the name of the provider-lookup tool; assistant messages
// calling it record the search parameters, and subsequent tool results
// are cached under a key derived from those parameters.
func Apply(st *State, msg llm.Message, vocab Vocabulary, lookupTool string) {
	st.LastMessageType = string(msg.Role)

	switch msg.Role {
	case llm.RoleUser:
		applyUser(st, msg.Content, vocab)
	case llm.RoleAssistant:
		applyAssistant(st, msg, lookupTool)
	case llm.RoleTool:
		applyTool(st, msg.Content)
	}
}

func applyUser(st *State, content string, vocab Vocabulary) {
	if content == "" {
		return
	}
	lower := strings.ToLower(content)

	if containsAny(lower, vocab.SearchKeywords) {
		st.MentionedProviderSearch = true
	}

	if containsAny(lower, vocab.SymptomKeywords) {
		for _, sentence := range strings.Split(lower, ".") {
			if containsAny(sentence, vocab.SymptomKeywords) {
				st.MentionedSymptoms = append(st.MentionedSymptoms, strings.TrimSpace(sentence))
			}
		}
	}

	for _, topic := range vocab.HealthTopics {
		if strings.Contains(lower, topic) {
			st.addTopic(topic)
		}
	}
}

func applyAssistant(st *State, msg llm.Message, lookupTool string) {
	for _, tc := range msg.ToolCalls {
		if tc.Name != lookupTool {
			continue
		}
		st.MentionedProviderSearch = true
		st.LastSearchTime = time.Now().UTC()
		st.LastSearchParams = tc.Input
	}
}

// applyTool caches provider-lookup results keyed by the parameters of the
// preceding search. Non-list or unparseable payloads are ignored.
func applyTool(st *State, content string) {
	if content == "" || st.LastSearchParams == nil {
		return
	}

	var payload struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(content), &payload); err != nil || payload.Type != "list" {
		return
	}

	if st.ResultCache == nil {
		st.ResultCache = map[string]string{}
	}
	st.ResultCache[CacheKey(st.LastSearchParams)] = content
	st.SearchCount++
}

func (st *State) addTopic(topic string) {
	for _, t := range st.TopicsDiscussed {
		if t == topic {
			return
		}
	}
	st.TopicsDiscussed = append(st.TopicsDiscussed, topic)
	sort.Strings(st.TopicsDiscussed)
}

// CacheKey derives the result-cache key from lookup parameters.
// The key is "location:specialty:name" lowercased, so repeated searches
// with the same parameters hit the cache.
func CacheKey(params map[string]any) string {
	get := func(k string) string {
		if v, ok := params[k].(string); ok {
			return v
		}
		return ""
	}
	key := get("location") + ":" + get("specialty") + ":" + get("provider_name")
	return strings.ToLower(key)
}

// CachedResult returns the cached lookup result for the given parameters,
// if one exists.
func (st *State) CachedResult(location, specialty, name string) (string, bool) {
	if st.ResultCache == nil {
		return "", false
	}
	key := strings.ToLower(location + ":" + specialty + ":" + name)
	v, ok := st.ResultCache[key]
	return v, ok
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
