package answer

import "strings"

const (
	quickSystem = "You are a helpful assistant."

	contextSystem = "You are a helpful assistant. Answer the question using only the provided context. " +
		"If the context does not contain the answer, say that you do not know."

	summarizeSystem = "You summarize documents. Keep every important fact, name, number and date. " +
		"Write plain prose without preamble."
	summarizeInstruction = "Summarize the text above."

	extractSystem = "You extract structured data from text. " +
		"Respond only with a JSON object that conforms to the given JSON schema. " +
		"Use null for values the text does not provide."
)

func contextPrompt(context, question string) string {
	var b strings.Builder
	b.WriteString("Context:\n")
	b.WriteString(context)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(question)
	return b.String()
}

func extractPrompt(context, request, schema string) string {
	var b strings.Builder
	if context != "" {
		b.WriteString(context)
		b.WriteString("\n\n")
	}
	b.WriteString("Request: ")
	b.WriteString(request)
	b.WriteString("\n\nJSON schema:\n")
	b.WriteString(schema)
	return b.String()
}

func summarizePrompt(text string) string {
	return text + "\n\n" + summarizeInstruction
}
