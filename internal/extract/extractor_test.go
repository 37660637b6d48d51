package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/kgchat/internal/profile"
)

func item(f profile.Field, v string) profile.KnowledgeItem {
	return profile.KnowledgeItem{Field: f, Value: v}
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []profile.KnowledgeItem
	}{
		{
			name:  "interest window",
			input: "I love hiking and painting",
			want:  []profile.KnowledgeItem{item(profile.Interest, "hiking and")},
		},
		{
			name:  "personality trait",
			input: "I'm a curious learner",
			want:  []profile.KnowledgeItem{item(profile.PersonalityTrait, "a curious")},
		},
		{
			name:  "trigger at end captures nothing",
			input: "I love",
			want:  nil,
		},
		{
			name:  "no trigger",
			input: "What's the weather today?",
			want:  nil,
		},
		{
			name:  "original casing kept",
			input: "I Love Rock Climbing daily",
			want:  []profile.KnowledgeItem{item(profile.Interest, "Rock Climbing")},
		},
		{
			name:  "inflected trigger",
			input: "She loves jazz music",
			want:  []profile.KnowledgeItem{item(profile.Interest, "jazz music")},
		},
		{
			name:  "window shorter than two tokens",
			input: "I enjoy chess",
			want:  []profile.KnowledgeItem{item(profile.Interest, "chess")},
		},
		{
			name:  "skill then trait",
			input: "I'm good at Go programming",
			want: []profile.KnowledgeItem{
				item(profile.Skill, "Go programming"),
				item(profile.PersonalityTrait, "good at"),
			},
		},
		{
			name:  "multi-word triggers in several categories",
			input: "I am interested in chess",
			want: []profile.KnowledgeItem{
				item(profile.Interest, "chess"),
				item(profile.PersonalityTrait, "interested in"),
			},
		},
	}

	e := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Detect(tt.input))
		})
	}
}

func TestDetect_NeverFillsTopics(t *testing.T) {
	e := New()
	for _, it := range e.Detect("I love technology and I'm passionate about learning and innovation") {
		assert.NotEqual(t, profile.Topic, it.Field)
	}
}

func TestApply_AppendsNewFactsOnly(t *testing.T) {
	e := New()
	p := profile.New("alice")
	p.Interests = []string{"hiking and"}

	added := e.Apply(&p, "I love hiking and painting. I'm a curious learner")

	require.Len(t, added, 1)
	assert.Equal(t, item(profile.PersonalityTrait, "a curious"), added[0])
	assert.Equal(t, []string{"hiking and"}, p.Interests)
	assert.Equal(t, []string{"a curious"}, p.PersonalityTraits)
	assert.Empty(t, p.Topics)
}

func TestApply_Idempotent(t *testing.T) {
	e := New()
	p := profile.New("alice")

	first := e.Apply(&p, "I enjoy chess openings")
	second := e.Apply(&p, "I enjoy chess openings")

	assert.Len(t, first, 1)
	assert.Empty(t, second)
	assert.Equal(t, []string{"chess openings"}, p.Interests)
}

func TestNewWithRules(t *testing.T) {
	e := NewWithRules([]Rule{{Field: profile.Skill, Triggers: []string{"fluent in"}}})
	assert.Equal(t,
		[]profile.KnowledgeItem{item(profile.Skill, "Spanish")},
		e.Detect("I am fluent in Spanish"),
	)
}
