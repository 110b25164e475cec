package prompt_test

import (
	"strings"
	"testing"

	"github.com/ndemidova/mira-bot/internal/database"
	"github.com/ndemidova/mira-bot/internal/prompt"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	c := prompt.DefaultClassifier()

	tests := []struct {
		name    string
		text    string
		history []database.HistoryEntry
		want    prompt.Classification
	}{
		{
			name: "plain short message",
			text: "привет, как дела?",
			want: prompt.Classification{},
		},
		{
			name: "explicit detail request",
			text: "разложи по полочкам, почему так происходит",
			want: prompt.Classification{Detailed: true},
		},
		{
			name: "two question marks trigger detail",
			text: "почему он молчит? это нормально?",
			want: prompt.Classification{Detailed: true},
		},
		{
			name: "long text triggers detail",
			text: strings.Repeat("мне тяжело ", 60),
			want: prompt.Classification{Detailed: true},
		},
		{
			name: "complexity keyword with relationship topic",
			text: "что делать, если он написал в 2 часа ночи?",
			want: prompt.Classification{Detailed: true, Relationship: true},
		},
		{
			name: "relationship keyword alone",
			text: "мы расстались месяц назад",
			want: prompt.Classification{Relationship: true},
		},
		{
			name: "variant request",
			text: "помоги сформулировать ответ на его сообщение",
			want: prompt.Classification{Variants: true},
		},
		{
			name: "english keywords",
			text: "is this gaslighting? we had a breakup",
			want: prompt.Classification{Detailed: true, Relationship: true},
		},
		{
			name: "retry signal in recent user turn",
			text: "ладно",
			history: []database.HistoryEntry{
				{Role: database.RoleUser, Content: "посоветуй что-нибудь"},
				{Role: database.RoleAssistant, Content: "попробуйте написать ему первой"},
				{Role: database.RoleUser, Content: "это не помогло совсем"},
				{Role: database.RoleAssistant, Content: "понимаю вас"},
			},
			want: prompt.Classification{Detailed: true},
		},
		{
			name: "retry signal outside lookback window ignored",
			text: "ладно",
			history: append(
				[]database.HistoryEntry{
					{Role: database.RoleUser, Content: "не помогло"},
				},
				manyUserTurns(7)...,
			),
			want: prompt.Classification{},
		},
		{
			name: "retry signal in assistant turn ignored",
			text: "ладно",
			history: []database.HistoryEntry{
				{Role: database.RoleAssistant, Content: "если это не помогло, попробуем иначе"},
			},
			want: prompt.Classification{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := c.Classify(tt.text, tt.history)
			if got != tt.want {
				t.Errorf("Classify() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func manyUserTurns(n int) []database.HistoryEntry {
	turns := make([]database.HistoryEntry, 0, n)
	for i := 0; i < n; i++ {
		turns = append(turns, database.HistoryEntry{Role: database.RoleUser, Content: "расскажи ещё"})
	}
	return turns
}

func TestCompose_BlockOrderAndParameters(t *testing.T) {
	t.Parallel()

	c := prompt.DefaultClassifier()

	t.Run("plain message gets base blocks and default parameters", func(t *testing.T) {
		t.Parallel()
		comp := c.Compose("привет", nil)

		if got := blockNames(comp); !equalStrings(got, []string{"persona", "warm_structured"}) {
			t.Errorf("blocks = %v, want [persona warm_structured]", got)
		}
		if comp.MaxTokens != 500 {
			t.Errorf("MaxTokens = %d, want 500", comp.MaxTokens)
		}
		if comp.Temperature != 0.6 {
			t.Errorf("Temperature = %v, want 0.6", comp.Temperature)
		}
		if comp.UpgradeModel {
			t.Error("UpgradeModel = true, want false for plain message")
		}
	})

	t.Run("night message gets relationship and deep analysis blocks", func(t *testing.T) {
		t.Parallel()
		comp := c.Compose("что делать, если он написал в 2 часа ночи?", nil)

		want := []string{"persona", "warm_structured", "relationship_knowledge", "deep_analysis"}
		if got := blockNames(comp); !equalStrings(got, want) {
			t.Errorf("blocks = %v, want %v", got, want)
		}
		if comp.MaxTokens != 1500 {
			t.Errorf("MaxTokens = %d, want 1500", comp.MaxTokens)
		}
		if comp.Temperature != 0.7 {
			t.Errorf("Temperature = %v, want 0.7", comp.Temperature)
		}
		if !comp.UpgradeModel {
			t.Error("UpgradeModel = false, want true for detailed message")
		}
	})

	t.Run("relationship without detail still adds deep analysis", func(t *testing.T) {
		t.Parallel()
		comp := c.Compose("он игнорирует меня", nil)

		want := []string{"persona", "warm_structured", "relationship_knowledge", "deep_analysis"}
		if got := blockNames(comp); !equalStrings(got, want) {
			t.Errorf("blocks = %v, want %v", got, want)
		}
		if comp.UpgradeModel {
			t.Error("UpgradeModel = true, want false without a detail trigger")
		}
	})

	t.Run("variant request appends phrasing block last", func(t *testing.T) {
		t.Parallel()
		comp := c.Compose("подробно объясни, что ему написать", nil)

		want := []string{"persona", "warm_structured", "deep_analysis", "phrasing_variants"}
		if got := blockNames(comp); !equalStrings(got, want) {
			t.Errorf("blocks = %v, want %v", got, want)
		}
	})
}

func TestCompose_MessageAssembly(t *testing.T) {
	t.Parallel()

	c := prompt.DefaultClassifier()
	history := []database.HistoryEntry{
		{Role: database.RoleUser, Content: "привет"},
		{Role: database.RoleAssistant, Content: "здравствуйте"},
	}

	comp := c.Compose("как дела", history)

	n := len(comp.Blocks)
	if len(comp.Messages) != n+len(history)+1 {
		t.Fatalf("len(Messages) = %d, want %d", len(comp.Messages), n+len(history)+1)
	}
	for i := 0; i < n; i++ {
		if comp.Messages[i].Role != database.RoleSystem {
			t.Errorf("Messages[%d].Role = %q, want system", i, comp.Messages[i].Role)
		}
	}
	if comp.Messages[n].Content != "привет" || comp.Messages[n+1].Content != "здравствуйте" {
		t.Error("history not preserved in order after system blocks")
	}
	last := comp.Messages[len(comp.Messages)-1]
	if last.Role != database.RoleUser || last.Content != "как дела" {
		t.Errorf("last message = %+v, want the user turn", last)
	}
}

func blockNames(comp prompt.Composition) []string {
	names := make([]string, 0, len(comp.Blocks))
	for _, b := range comp.Blocks {
		names = append(names, b.Name)
	}
	return names
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
