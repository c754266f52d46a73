package llm

import "fmt"

const systemPrompt = `You are a senior feed editor and analyst. Given an article, produce a concise one-line summary, a detailed bullet-style summary, a short recommendation rationale, a global score from 0 to 100, and 3-6 topic tags. Respond with a single JSON object containing exactly the fields summary_short, summary_long, recommend_reason, global_score and tags, with no surrounding text.

Reader profile: a software engineer focused on robotics, embodied AI, large language models, AI agents, AI-assisted coding, systems architecture and C/C++, who also follows major world news and anything genuinely novel or fun. Prefer deep, information-dense, technically insightful or highly entertaining material and score strong content in those areas higher.`

const userPromptTemplate = `Read the following article and produce the summary and score.

[Article]
Title: %s
Source: %s
Link: %s
Body (may be truncated):
%s

[Output requirements]
1. summary_short: one sentence capturing the core of the article, at most 50 words.
2. summary_long: a more detailed bullet-style summary, at most 200 words.
3. recommend_reason: one sentence on why (or why not) this is worth the reader's time.
4. global_score: a 0-100 number, higher means more worth reading.
5. tags: 3-6 lowercase English tags related to the topic, such as "ai", "security", "tech".

Scoring guide:
- 90-100: dense, original, actionable; excellent for technical readers.
- 70-89: solid value, useful information.
- 50-69: ordinary news or commentary.
- 0-49: thin or unreliable content.`

func buildUserPrompt(title, domain, url, content string) string {
	if domain == "" {
		domain = "unknown"
	}

	return fmt.Sprintf(userPromptTemplate, title, domain, url, content)
}
