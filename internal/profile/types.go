package profile

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when no profile exists for a user name.
	ErrNotFound = errors.New("profile not found")
	// ErrValidation marks missing or malformed arguments.
	ErrValidation = errors.New("validation error")
)

// StorageError wraps a failure of the backing store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Profile is everything the assistant has learned about one user.
// Each list keeps insertion order and holds no duplicates.
type Profile struct {
	UserName          string   `json:"user_name"`
	Interests         []string `json:"interests"`
	Skills            []string `json:"skills"`
	Topics            []string `json:"topics"`
	PersonalityTraits []string `json:"personality_traits"`
}

// New returns an empty profile for userName with all lists non-nil.
func New(userName string) Profile {
	return Profile{
		UserName:          userName,
		Interests:         []string{},
		Skills:            []string{},
		Topics:            []string{},
		PersonalityTraits: []string{},
	}
}

// Field selects one of the four lists of a Profile.
type Field int

const (
	Interest Field = iota
	Skill
	Topic
	PersonalityTrait
)

// Fields lists every Field in declaration order.
var Fields = []Field{Interest, Skill, Topic, PersonalityTrait}

func (f Field) String() string {
	switch f {
	case Interest:
		return "interest"
	case Skill:
		return "skill"
	case Topic:
		return "topic"
	case PersonalityTrait:
		return "personality_trait"
	}
	return fmt.Sprintf("Field(%d)", int(f))
}

// ParseField maps a wire name ("interest", "skill", "topic",
// "personality_trait") to a Field. Plural forms are accepted.
func ParseField(s string) (Field, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "interest", "interests":
		return Interest, nil
	case "skill", "skills":
		return Skill, nil
	case "topic", "topics":
		return Topic, nil
	case "personality_trait", "personality_traits":
		return PersonalityTrait, nil
	}
	return 0, validationf("unknown field %q", s)
}

func (f Field) MarshalText() ([]byte, error) {
	if f < Interest || f > PersonalityTrait {
		return nil, fmt.Errorf("invalid field %d", int(f))
	}
	return []byte(f.String()), nil
}

func (f *Field) UnmarshalText(b []byte) error {
	parsed, err := ParseField(string(b))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// List returns a pointer to the list f selects.
func (p *Profile) List(f Field) *[]string {
	switch f {
	case Interest:
		return &p.Interests
	case Skill:
		return &p.Skills
	case Topic:
		return &p.Topics
	case PersonalityTrait:
		return &p.PersonalityTraits
	}
	panic(fmt.Sprintf("profile: unhandled field %d", int(f)))
}

// Has reports whether value is already recorded under f.
func (p *Profile) Has(f Field, value string) bool {
	for _, v := range *p.List(f) {
		if v == value {
			return true
		}
	}
	return false
}

// Append adds value to f unless already present. Reports whether it was added.
func (p *Profile) Append(f Field, value string) bool {
	if value == "" || p.Has(f, value) {
		return false
	}
	l := p.List(f)
	*l = append(*l, value)
	return true
}

// Replace swaps the first occurrence of oldValue for newValue. If newValue is
// already present, oldValue is dropped instead so the list stays unique.
// Reports whether anything changed.
func (p *Profile) Replace(f Field, oldValue, newValue string) bool {
	l := p.List(f)
	idx := -1
	for i, v := range *l {
		if v == oldValue {
			idx = i
			break
		}
	}
	if idx == -1 || oldValue == newValue {
		return false
	}
	if p.Has(f, newValue) {
		*l = append((*l)[:idx:idx], (*l)[idx+1:]...)
		return true
	}
	(*l)[idx] = newValue
	return true
}

// Remove drops every occurrence of value from f. Reports whether anything changed.
func (p *Profile) Remove(f Field, value string) bool {
	l := p.List(f)
	kept := make([]string, 0, len(*l))
	for _, v := range *l {
		if v != value {
			kept = append(kept, v)
		}
	}
	changed := len(kept) != len(*l)
	*l = kept
	return changed
}

// KnowledgeItem is a single fact addressed by its field.
type KnowledgeItem struct {
	Field Field  `json:"field"`
	Value string `json:"value"`
}

func (p *Profile) normalize() {
	for _, f := range Fields {
		if l := p.List(f); *l == nil {
			*l = []string{}
		}
	}
}

func deepCopyProfile(p *Profile) Profile {
	if p == nil {
		return Profile{}
	}
	cp := Profile{UserName: p.UserName}
	for _, f := range Fields {
		src := *p.List(f)
		dst := make([]string, len(src))
		copy(dst, src)
		*cp.List(f) = dst
	}
	return cp
}
