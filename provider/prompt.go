package provider

import (
	"fmt"

	"github.com/pithecene-io/assay/types"
)

// DefaultPromptVersion names the current prompt template revision.
// Responses record the version so answers remain comparable across
// template changes.
const DefaultPromptVersion = "v1"

// systemPrompt instructs the model to reply with a single JSON object
// matching the reply schema. Shared across providers.
const systemPrompt = `You are a helpful AI engine providing accurate information.

CRITICAL: You MUST respond with ONLY a valid JSON object matching this exact schema:

` + "```json" + `
{
  "answer": "your detailed answer here",
  "citations": ["https://source1.com", "https://source2.com"],
  "meta": {}
}
` + "```" + `

Requirements:
- "answer" is required and must be a string
- "citations" should be an array of URLs (can be empty)
- "meta" can contain additional metadata (optional)
- Do not include any text before or after the JSON
- Ensure valid JSON syntax`

// userPromptFormat frames the question with its topic and persona
// context. Order: question, topic title, persona name, role, tone.
const userPromptFormat = `Question: %s

Context:
- Topic: %s
- Persona: %s (%s)
- Tone: %s

Provide your answer as a JSON object matching the required schema.`

// buildMessages renders the v1 prompt templates into a two-turn
// transcript. Absent persona fields fall back to neutral placeholders.
func buildMessages(question string, persona *types.Persona, topic *types.Topic) []Message {
	var (
		topicTitle  string
		personaName = "User"
		personaRole string
		personaTone = "neutral"
	)
	if topic != nil {
		topicTitle = topic.Title
	}
	if persona != nil {
		if persona.Name != "" {
			personaName = persona.Name
		}
		personaRole = persona.Role
		if persona.Tone != "" {
			personaTone = persona.Tone
		}
	}

	user := fmt.Sprintf(userPromptFormat, question, topicTitle, personaName, personaRole, personaTone)
	return []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: user},
	}
}

// prepareRequest is the shared PreparePrompt implementation.
func prepareRequest(question string, persona *types.Persona, topic *types.Topic, promptVersion string) Request {
	if promptVersion == "" {
		promptVersion = DefaultPromptVersion
	}
	return Request{
		Messages:      buildMessages(question, persona, topic),
		PromptVersion: promptVersion,
	}
}
