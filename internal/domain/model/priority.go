package model

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"ai-learning-plans/internal/domain"
)

// Tier is the subscription tier resolved by billing before enqueue.
type Tier string

const (
	TierFree    Tier = "free"
	TierStarter Tier = "starter"
	TierPro     Tier = "pro"
)

// PriorityTopicBoost is added on top of the tier base for curated topics.
const PriorityTopicBoost = 3

var tierBase = map[Tier]int{
	TierFree:    1,
	TierStarter: 5,
	TierPro:     10,
}

func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := tierBase[t]; !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownTier, s)
	}
	return t, nil
}

// ComputePriority maps a tier and the priority-topic flag to a queue priority.
func ComputePriority(tier Tier, isPriorityTopic bool) (int, error) {
	base, ok := tierBase[tier]
	if !ok {
		return 0, fmt.Errorf("%w: %q", domain.ErrUnknownTier, tier)
	}
	if isPriorityTopic {
		base += PriorityTopicBoost
	}
	return base, nil
}

// DefaultPriorityTopics is the curated list of boosted topics.
var DefaultPriorityTopics = []string{
	"ai engineering",
	"machine learning",
	"data science",
	"llm",
	"prompt engineering",
	"cloud computing",
	"cybersecurity",
	"devops",
	"kubernetes",
}

var (
	topicPatternsMu sync.Mutex
	topicPatterns   = map[string]*regexp.Regexp{}
)

// IsPriorityTopic reports whether text contains any topic as a whole word or phrase.
// Matching is case-insensitive and tolerates any whitespace between words.
func IsPriorityTopic(text string, topics []string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	for _, topic := range topics {
		re := topicPattern(topic)
		if re != nil && re.MatchString(text) {
			return true
		}
	}
	return false
}

func topicPattern(topic string) *regexp.Regexp {
	words := strings.Fields(strings.ToLower(topic))
	if len(words) == 0 {
		return nil
	}
	key := strings.Join(words, " ")

	topicPatternsMu.Lock()
	defer topicPatternsMu.Unlock()
	if re, ok := topicPatterns[key]; ok {
		return re
	}
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	re := regexp.MustCompile(`(?i)(^|[^\p{L}\p{N}_])` + strings.Join(quoted, `\s+`) + `($|[^\p{L}\p{N}_])`)
	topicPatterns[key] = re
	return re
}
