package extract

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/focalhq/focal/pkg/types"
)

// featuresResponse is the wire shape of an extractor response. All fields are
// optional; parsing fills defaults so downstream scoring is all-zero-safe.
type featuresResponse struct {
	EmotionalKeywords  []string                    `json:"emotional_keywords"`
	EmotionalIntensity float64                     `json:"emotional_intensity"`
	Sentiment          float64                     `json:"sentiment"`
	People             []personResponse            `json:"people"`
	Topics             []string                    `json:"topics"`
	Commitments        []commitmentResponse        `json:"commitments"`
	Dates              []string                    `json:"dates"`
	RelationshipEvents []relationshipEventResponse `json:"relationship_events"`
}

type personResponse struct {
	Name     string  `json:"name"`
	Intimacy float64 `json:"intimacy"`
	Conflict bool    `json:"conflict"`
}

type commitmentResponse struct {
	Description string `json:"description"`
	DueDate     string `json:"due_date"`
}

type relationshipEventResponse struct {
	Person    string `json:"person"`
	Kind      string `json:"kind"`
	Sensitive bool   `json:"sensitive"`
}

// extractJSON extracts the first complete JSON object from a string that may
// contain extra text. LLM extractors add explanations before/after the JSON
// despite instructions; markdown fences are stripped first.
func extractJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return text // No JSON found; let the parser report the failure.
	}

	braceCount := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		char := text[i]

		if escape {
			escape = false
			continue
		}
		if char == '\\' {
			escape = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}

		if !inString {
			switch char {
			case '{':
				braceCount++
			case '}':
				braceCount--
				if braceCount == 0 {
					return text[start : i+1]
				}
			}
		}
	}

	return text // No complete JSON object found.
}

// clamp01 clamps v to [0, 1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ParseFeaturesResponse parses an extractor JSON response into typed
// ExtractedFeatures. Invalid entries (empty names, unparseable dates) are
// dropped rather than failing the batch; out-of-range confidences and
// sentiment are clamped. Only malformed JSON itself is an error.
func ParseFeaturesResponse(jsonStr string) (*types.ExtractedFeatures, error) {
	var raw featuresResponse
	if err := json.Unmarshal([]byte(extractJSON(jsonStr)), &raw); err != nil {
		return nil, fmt.Errorf("extract: malformed features JSON: %w", err)
	}

	features := &types.ExtractedFeatures{
		EmotionalKeywords:  raw.EmotionalKeywords,
		EmotionalIntensity: clamp01(raw.EmotionalIntensity),
		Topics:             raw.Topics,
	}

	// Sentiment is a polarity in [-1, 1].
	features.Sentiment = raw.Sentiment
	if features.Sentiment < -1 {
		features.Sentiment = -1
	}
	if features.Sentiment > 1 {
		features.Sentiment = 1
	}

	for _, p := range raw.People {
		if strings.TrimSpace(p.Name) == "" {
			log.Printf("extract: dropping person mention with empty name")
			continue
		}
		features.People = append(features.People, types.PersonMention{
			Name:     strings.TrimSpace(p.Name),
			Intimacy: clamp01(p.Intimacy),
			Conflict: p.Conflict,
		})
	}

	for _, c := range raw.Commitments {
		if strings.TrimSpace(c.Description) == "" {
			log.Printf("extract: dropping commitment with empty description")
			continue
		}
		commitment := types.Commitment{Description: strings.TrimSpace(c.Description)}
		if c.DueDate != "" {
			due, err := parseDate(c.DueDate)
			if err != nil {
				log.Printf("extract: dropping unparseable due date %q: %v", c.DueDate, err)
			} else {
				commitment.DueDate = &due
			}
		}
		features.Commitments = append(features.Commitments, commitment)
	}

	for _, d := range raw.Dates {
		parsed, err := parseDate(d)
		if err != nil {
			log.Printf("extract: dropping unparseable date %q: %v", d, err)
			continue
		}
		features.Dates = append(features.Dates, parsed)
	}

	for _, e := range raw.RelationshipEvents {
		if strings.TrimSpace(e.Person) == "" || strings.TrimSpace(e.Kind) == "" {
			log.Printf("extract: dropping relationship event with missing person or kind")
			continue
		}
		features.RelationshipEvents = append(features.RelationshipEvents, types.RelationshipEvent{
			Person:    strings.TrimSpace(e.Person),
			Kind:      strings.TrimSpace(e.Kind),
			Sensitive: e.Sensitive,
		})
	}

	return features, nil
}

// parseDate accepts the date layouts extractors actually emit.
func parseDate(s string) (time.Time, error) {
	layouts := []string{time.RFC3339, "2006-01-02", "2006-01-02 15:04:05"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date layout")
}
