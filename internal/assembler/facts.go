package assembler

import (
	"context"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Fact-worthy patterns scanned in user turns. Matching is deliberately
// conservative: a missed fact costs nothing, a wrong one pollutes the
// AI context.
var factPatterns = []struct {
	key string
	re  *regexp.Regexp
}{
	{key: "user_name", re: regexp.MustCompile(`(?i)\bnama\s+(?:saya|aku)\s+(?:adalah\s+)?([\p{L} '-]{2,40})`)},
	{key: "interest", re: regexp.MustCompile(`(?i)\bsaya\s+(?:suka|tertarik|hobi)\s+([\p{L} '-]{2,40})`)},
	{key: "neighborhood", re: regexp.MustCompile(`(?i)\bsaya\s+tinggal\s+di\s+([\p{L}\d '-]{2,60})`)},
}

const factExtractTimeout = 5 * time.Second

// ExtractFacts scans the latest user turn for fact-worthy statements and
// upserts them. Best effort: it is run detached by the dispatcher and
// only logs on failure.
func (a *Assembler) ExtractFacts(phone, userText string) {
	ctx, cancel := context.WithTimeout(context.Background(), factExtractTimeout)
	defer cancel()

	for _, p := range factPatterns {
		match := p.re.FindStringSubmatch(userText)
		if match == nil {
			continue
		}
		value := strings.TrimSpace(strings.Trim(match[1], ".,!?"))
		if value == "" {
			continue
		}
		if err := a.storage.UpsertFact(ctx, phone, p.key, value); err != nil {
			a.logger.Warn("Failed to save durable fact",
				zap.Error(err),
				zap.String("phone", phone),
				zap.String("key", p.key))
		}
	}
}
