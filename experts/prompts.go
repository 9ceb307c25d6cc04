package experts

import "strings"

const qnaSystemPrompt = `You are a helpful, knowledgeable assistant. Answer the user's latest message directly and concisely, using the earlier conversation for context. If you do not know something, say so instead of guessing.`

const ragPromptTemplate = `You are an assistant that answers questions using the reference documents below.

Instructions:
- Base your answer on the documents. Quote or paraphrase them where useful and mention the document title you rely on.
- If the documents do not contain the answer, say that the documents do not cover it, then answer from general knowledge only if you are confident.
- Keep the answer focused on the user's question.

Reference documents:
{context}

Question: {query}`

const noDocuments = "(no matching documents)"

func ragInstructions(context, query string) string {
	if strings.TrimSpace(context) == "" {
		context = noDocuments
	}
	return strings.NewReplacer("{context}", context, "{query}", query).Replace(ragPromptTemplate)
}
