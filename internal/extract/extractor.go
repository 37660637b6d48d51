package extract

import (
	"strings"

	"github.com/kalambet/kgchat/internal/profile"
)

// windowSize is the number of tokens captured after a trigger phrase.
const windowSize = 2

// Rule maps a set of trigger phrases to the profile field they fill.
type Rule struct {
	Field    profile.Field
	Triggers []string
}

// DefaultRules are evaluated in order; triggers within a rule too.
var DefaultRules = []Rule{
	{
		Field:    profile.Interest,
		Triggers: []string{"love", "enjoy", "interested in", "passionate about", "like"},
	},
	{
		Field:    profile.Skill,
		Triggers: []string{"good at", "skilled in", "expert in", "experienced with"},
	},
	{
		Field:    profile.PersonalityTrait,
		Triggers: []string{"i am", "i'm", "i tend to be", "i consider myself"},
	},
}

// Extractor finds profile facts in free text by looking for trigger phrases
// and capturing the words that follow them.
type Extractor struct {
	rules []Rule
}

// New creates an Extractor over DefaultRules.
func New() *Extractor {
	return &Extractor{rules: DefaultRules}
}

// NewWithRules creates an Extractor over custom rules.
func NewWithRules(rules []Rule) *Extractor {
	return &Extractor{rules: rules}
}

// Detect returns every fact found in input, in rule order, without
// duplicates. It does not look at any profile.
func (e *Extractor) Detect(input string) []profile.KnowledgeItem {
	lower := strings.ToLower(input)
	tokens := strings.Fields(input)

	var out []profile.KnowledgeItem
	seen := make(map[profile.KnowledgeItem]bool)
	for _, r := range e.rules {
		for _, trigger := range r.Triggers {
			if !strings.Contains(lower, trigger) {
				continue
			}
			value := capture(tokens, strings.Fields(trigger))
			if value == "" {
				continue
			}
			item := profile.KnowledgeItem{Field: r.Field, Value: value}
			if !seen[item] {
				seen[item] = true
				out = append(out, item)
			}
		}
	}
	return out
}

// Apply appends the facts found in input to p and returns the ones that were
// not already present.
func (e *Extractor) Apply(p *profile.Profile, input string) []profile.KnowledgeItem {
	var added []profile.KnowledgeItem
	for _, item := range e.Detect(input) {
		if p.Append(item.Field, item.Value) {
			added = append(added, item)
		}
	}
	return added
}

// capture finds the first place the trigger words line up with tokens and
// returns up to windowSize tokens after it, joined by a single space.
// The first trigger word only has to prefix its token so inflected forms
// ("loves", "enjoyed") still match.
func capture(tokens, words []string) string {
	if len(words) == 0 {
		return ""
	}
	for i := 0; i+len(words) <= len(tokens); i++ {
		if !strings.HasPrefix(strings.ToLower(tokens[i]), words[0]) {
			continue
		}
		matched := true
		for j := 1; j < len(words); j++ {
			if strings.ToLower(tokens[i+j]) != words[j] {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}
		start := i + len(words)
		end := min(start+windowSize, len(tokens))
		return strings.Join(tokens[start:end], " ")
	}
	return ""
}
