package annotate

import "strings"

// Prompt templates carry {title} and {content} placeholders; content is
// truncated to maxContentChars before substitution (spec.md §4.7).
const (
	defaultSynopsisPrompt = "Write a single concise paragraph summarizing the following document.\n\nTitle: {title}\n\n{content}"
	defaultTagsPrompt     = "List 3 to 5 short topical tags for the following document, one per line, no numbering.\n\nTitle: {title}\n\n{content}"
	defaultNERPrompt      = "Extract named entities from the following document as a JSON array of {\"type\":\"person|organization|location|file_number\",\"text\":\"...\"} objects. Output only the JSON array.\n\nTitle: {title}\n\n{content}"
	defaultDatePrompt     = "Identify the best-estimate publication or creation date of the following document. Respond with JSON: {\"estimated_date\":\"RFC3339\",\"confidence\":\"exact|high|medium|low\",\"source\":\"...\"}.\n\nTitle: {title}\n\n{content}"
)

// Templates holds the per-operation prompt templates, overridable from
// configuration (spec.md §6's llm.synopsis_prompt/tags_prompt).
type Templates struct {
	Synopsis        string
	Tags            string
	NER             string
	DateDetect      string
	MaxContentChars int
}

// DefaultTemplates returns the built-in prompt set.
func DefaultTemplates() Templates {
	return Templates{
		Synopsis:        defaultSynopsisPrompt,
		Tags:            defaultTagsPrompt,
		NER:             defaultNERPrompt,
		DateDetect:      defaultDatePrompt,
		MaxContentChars: 12000,
	}
}

// Render substitutes {title} and {content} into template, truncating
// content to maxChars runes first.
func Render(template string, doc Document, maxChars int) string {
	content := doc.Text
	if runes := []rune(content); maxChars > 0 && len(runes) > maxChars {
		content = string(runes[:maxChars])
	}

	out := strings.ReplaceAll(template, "{title}", doc.Title)
	out = strings.ReplaceAll(out, "{content}", content)

	return out
}
