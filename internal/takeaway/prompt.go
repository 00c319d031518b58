package takeaway

import (
	"fmt"
	"strings"

	"stayguard/internal/repo"
)

const truncationMarker = "\n…[truncated]"

// BuildPrompt assembles the single generation prompt: a location label, the
// opinion texts, and instructions pinning the output format. The opinion
// block is capped at charLimit characters so an opinion-dense area cannot
// blow up the request.
func BuildPrompt(locationLabel string, opinions []repo.Opinion, charLimit int) string {
	var b strings.Builder
	for i, op := range opinions {
		text := strings.TrimSpace(op.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, text)
	}

	block := b.String()
	if charLimit > 0 && len(block) > charLimit {
		block = block[:charLimit] + truncationMarker
	}

	return fmt.Sprintf(`You are summarizing what people say about the area around %s.

Below are recent comments from people who stayed or live nearby:

%s
Synthesize them into safety takeaways. Respond with ONLY a JSON object of
exactly this shape, no markdown and no commentary:

{"positive": "...", "negative": "..."}

Rules:
- "positive": things people mention favorably about the area, as one or
  more complete sentences separated by newlines. Use null when the
  comments contain nothing genuinely positive.
- "negative": safety concerns people raise, same format. Use null when no
  concerns are raised.
- Only report what the comments actually say. Do not speculate.`, locationLabel, block)
}
