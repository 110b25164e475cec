// Package prompt classifies incoming messages with keyword heuristics and
// assembles the ordered instruction list for the completion call. Everything
// here is a pure mapping from (text, history) to output, with the keyword
// sets carried as data.
package prompt

import (
	"strings"

	"github.com/ndemidova/mira-bot/internal/database"
)

// Generation parameters per response mode.
const (
	maxTokensDetailed = 1500
	maxTokensDefault  = 500

	temperatureDetailed = 0.7
	temperatureDefault  = 0.6
)

// Auto-detail thresholds.
const (
	longTextThreshold   = 600
	questionMarksNeeded = 2
	retryLookbackTurns  = 6
)

// Classifier holds the keyword sets driving intent classification. All
// matches are case-insensitive substring matches over the message text.
type Classifier struct {
	// DetailTriggers are explicit "give me detail" phrases.
	DetailTriggers []string
	// ComplexityKeywords mark topics that deserve a detailed reply on their own.
	ComplexityKeywords []string
	// RetrySignals are "that didn't help, try differently" phrases scanned
	// over the most recent user turns.
	RetrySignals []string
	// VariantTriggers are "what should I say/write" phrases.
	VariantTriggers []string
	// RelationshipKeywords mark breakup / ex-partner / no-contact topics.
	RelationshipKeywords []string
}

// DefaultClassifier returns the production keyword sets. The audience writes
// mostly in Russian, with occasional English.
func DefaultClassifier() Classifier {
	return Classifier{
		DetailTriggers: []string{
			"подробно", "подробнее", "разложи по полочкам", "развернуто",
			"развёрнуто", "объясни детально", "in detail", "step by step",
		},
		ComplexityKeywords: []string{
			"что делать", "как мне быть", "не знаю, как", "стоит ли",
			"правильно ли", "манипул", "газлайт", "абьюз", "toxic",
			"gaslight", "manipulat",
		},
		RetrySignals: []string{
			"не помогло", "не помогает", "это не то", "попробуй иначе",
			"попробуй по-другому", "ты не понял", "ты не поняла",
			"not helping", "didn't help",
		},
		VariantTriggers: []string{
			"что ему написать", "что ей написать", "что написать",
			"что сказать", "как ответить", "как сформулировать",
			"помоги сформулировать", "what should i say", "what should i write",
		},
		RelationshipKeywords: []string{
			"бывш", "расстал", "развод", "разрыв", "не пишет", "написал",
			"игнорир", "заблокир", "вернуть его", "вернуть её", "не жду",
			"ex boyfriend", "ex girlfriend", "breakup", "no contact",
		},
	}
}

// Classification is the result of intent analysis for one message.
type Classification struct {
	Detailed     bool
	Relationship bool
	Variants     bool
}

// Block is one named system instruction in assembly order.
type Block struct {
	Name string
	Text string
}

// Composition is the fully assembled model request: ordered system blocks,
// conversation history, the user turn, and generation parameters.
type Composition struct {
	Classification Classification

	// Blocks are the system instructions, ordered by priority.
	Blocks []Block
	// Messages is the final ordered list: system blocks, history, user turn.
	Messages []database.HistoryEntry

	MaxTokens   int
	Temperature float32
	// UpgradeModel is set when a detail request should override the
	// cheaper tier selected by daily-volume degradation.
	UpgradeModel bool
}

// Classify runs the keyword heuristics over the message text and the recent
// user turns of the history.
func (c Classifier) Classify(text string, history []database.HistoryEntry) Classification {
	lower := strings.ToLower(text)

	explicit := containsAny(lower, c.DetailTriggers)
	auto := len([]rune(text)) > longTextThreshold ||
		strings.Count(text, "?") >= questionMarksNeeded ||
		containsAny(lower, c.ComplexityKeywords) ||
		c.recentRetrySignal(history)

	return Classification{
		Detailed:     explicit || auto,
		Relationship: containsAny(lower, c.RelationshipKeywords),
		Variants:     containsAny(lower, c.VariantTriggers),
	}
}

// recentRetrySignal reports whether any of the last few user turns contain a
// "try differently" phrase.
func (c Classifier) recentRetrySignal(history []database.HistoryEntry) bool {
	seen := 0
	for i := len(history) - 1; i >= 0 && seen < retryLookbackTurns; i-- {
		if history[i].Role != database.RoleUser {
			continue
		}
		seen++
		if containsAny(strings.ToLower(history[i].Content), c.RetrySignals) {
			return true
		}
	}
	return false
}

// Compose classifies the message and assembles the ordered instruction
// blocks, history, and user turn, plus generation parameters.
func (c Classifier) Compose(text string, history []database.HistoryEntry) Composition {
	cl := c.Classify(text, history)

	blocks := []Block{
		{Name: blockPersona, Text: PersonaInstruction},
		{Name: blockWarmStructured, Text: WarmStructuredInstruction},
	}
	if cl.Relationship {
		blocks = append(blocks, Block{Name: blockRelationship, Text: RelationshipKnowledgeInstruction})
	}
	if cl.Detailed || cl.Relationship {
		blocks = append(blocks, Block{Name: blockDeepAnalysis, Text: DeepAnalysisInstruction})
	}
	if cl.Variants {
		blocks = append(blocks, Block{Name: blockPhrasingVariants, Text: PhrasingVariantsInstruction})
	}

	messages := make([]database.HistoryEntry, 0, len(blocks)+len(history)+1)
	for _, b := range blocks {
		messages = append(messages, database.HistoryEntry{Role: database.RoleSystem, Content: b.Text})
	}
	messages = append(messages, history...)
	messages = append(messages, database.HistoryEntry{Role: database.RoleUser, Content: text})

	comp := Composition{
		Classification: cl,
		Blocks:         blocks,
		Messages:       messages,
		MaxTokens:      maxTokensDefault,
		Temperature:    temperatureDefault,
	}
	if cl.Detailed {
		comp.MaxTokens = maxTokensDetailed
		comp.Temperature = temperatureDetailed
		comp.UpgradeModel = true
	}
	return comp
}

func containsAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
