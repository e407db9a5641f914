package scorer

const systemPrompt = `You are a strict news relevance judge. You rate how well a news post matches a reader's stated interests, penalizing matches against their dislikes. You always answer with JSON only.`

const rankPromptFormat = `Title: %s

Reader interests: %s
Reader dislikes: %s

Post:
%s

Briefly (50-80 words) analyze whether this post matches the reader's interests, then rate it.
Respond with a JSON object and nothing else: {"explanation": "<your analysis>", "rank": <integer 0-100>}`
