package composer

import (
	"math/rand/v2"
	"strings"

	"github.com/kalambet/kgchat/internal/profile"
)

// Greeting is sent to users that have no profile yet.
const Greeting = "Hello! I'm your AI assistant. I'm here to learn about you and help with whatever you need."

// DefaultTopic fills {topic} when nothing in the input matches a known topic.
const DefaultTopic = "this topic"

const (
	defaultInterests = "learning"
	defaultSkills    = "problem-solving"
	defaultTraits    = "being curious"
)

var templates = [...]string{
	"That's really interesting! I can see you're passionate about {topic}. Based on your interests in {interests}, I think you might also enjoy exploring related areas.",
	"I've noted that in your profile, {name}. Your skills in {skills} could really complement this discussion.",
	"Given your personality traits like {traits}, I think this approach would work well for you.",
	"That reminds me of something we discussed earlier about {topic}. Your perspective on this has evolved!",
	"I'm learning so much about your interests in {interests}. This will help me provide better recommendations.",
	"Your expertise in {skills} really shows in this conversation, {name}!",
	"That's a great point! I'll remember this preference for our future conversations.",
	"Based on what you've told me about your interests, you might find this perspective valuable.",
	"I can see how your background in {skills} influences your thinking on this topic.",
	"This adds another dimension to your profile. I'm getting a better understanding of who you are!",
}

var topics = [...]string{
	"technology", "learning", "creativity", "problem-solving",
	"communication", "innovation", "growth",
}

// Templates returns a copy of the reply template pool.
func Templates() []string {
	out := make([]string, len(templates))
	copy(out, templates[:])
	return out
}

// Composer renders assistant replies from the template pool.
type Composer struct {
	intn func(n int) int
}

// New creates a Composer that picks templates with math/rand.
func New() *Composer {
	return &Composer{intn: rand.IntN}
}

// NewWithRand creates a Composer with a custom random source. intn must
// return a value in [0, n).
func NewWithRand(intn func(n int) int) *Composer {
	return &Composer{intn: intn}
}

// Respond picks a template and fills it from p. A nil profile gets the
// greeting.
func (c *Composer) Respond(userName string, p *profile.Profile, input string) string {
	if p == nil {
		return Greeting
	}
	return Render(templates[c.intn(len(templates))], userName, p, input)
}

// Render replaces every placeholder in tmpl.
func Render(tmpl, userName string, p *profile.Profile, input string) string {
	topic, ok := DetectTopic(input)
	if !ok {
		topic = DefaultTopic
	}
	r := strings.NewReplacer(
		"{name}", userName,
		"{topic}", topic,
		"{interests}", firstTwo(p.Interests, defaultInterests),
		"{skills}", firstTwo(p.Skills, defaultSkills),
		"{traits}", firstTwo(p.PersonalityTraits, defaultTraits),
	)
	return r.Replace(tmpl)
}

// DetectTopic returns the first known topic that contains, or is contained
// in, some whitespace-separated word of the lower-cased input.
func DetectTopic(input string) (string, bool) {
	words := strings.Fields(strings.ToLower(input))
	for _, topic := range topics {
		for _, w := range words {
			if strings.Contains(topic, w) || strings.Contains(w, topic) {
				return topic, true
			}
		}
	}
	return "", false
}

func firstTwo(values []string, fallback string) string {
	if len(values) == 0 {
		return fallback
	}
	return strings.Join(values[:min(2, len(values))], " and ")
}
