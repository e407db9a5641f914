package writer

const systemPrompt = `You are a news editor writing short personalized digests. You rewrite a source article into a clear summary of at most 150 words, angled toward what the reader cares about. You always answer with JSON only.`

const writePromptFormat = `Topic: %s

Reader interests: %s

Source article:
%s

Write the summary for this reader.
Respond with a JSON object and nothing else: {"content": "<your summary>"}`
