package extract

import "regexp"

const (
	nameWord = `[a-z][a-z.'-]*`
	// span stops at punctuation or at a conjunction that starts a new clause.
	span = `([^.!?,;]+?)(?:\s+(?:and|but|because|so|where|since|while)\b|[.!?,;]|$)`
)

// Family names, usable as SupersededBy targets.
const (
	FamilyCorrection = "correction"
	FamilyName       = "name"
	FamilyWork       = "work"
	FamilyPreference = "preference"
	FamilySkill      = "skill"
	FamilyLocation   = "location"
)

var trivialNames = set(
	"a", "an", "the", "from", "in", "at", "not", "so", "very", "really", "just",
	"also", "here", "there", "good", "fine", "ok", "okay", "sure", "sorry", "glad",
	"happy", "going", "looking", "trying", "working", "interested", "learning",
	"living", "still", "always", "never", "currently", "doing", "feeling", "tired",
)

var notWork = set("not", "you", "that", "this", "it", "what", "so", "too", "the")

func correction(lead string) Rule {
	return Rule{
		Pattern: regexp.MustCompile(`(?i)\b` + lead + `\s+(` + nameWord + `(?:\s+` + nameWord + `)?)\s*,?\s+not\s+([a-z][a-z'-]*(?:\s+[a-z][a-z'-]*)?)`),
		Templates: []string{
			"User's name is {1}",
			"CORRECTION: User's name is NOT {2}",
		},
		Title:  true,
		Reject: trivialNames,
	}
}

func name(lead string) Rule {
	return Rule{
		Pattern:   regexp.MustCompile(`(?i)\b` + lead + `\s+(` + nameWord + `)`),
		Templates: []string{"User's name is {1}"},
		Title:     true,
		Reject:    trivialNames,
	}
}

func work(lead, template string) Rule {
	return Rule{
		Pattern:   regexp.MustCompile(`(?i)\b` + lead + `\s+` + span),
		Templates: []string{template},
		MinLen:    4,
		Reject:    notWork,
	}
}

func location(lead string) Rule {
	return Rule{
		Pattern:   regexp.MustCompile(`(?i)\b` + lead + `\s+` + span),
		Templates: []string{"User lives in {1}"},
		Title:     true,
	}
}

// DefaultFamilies returns the English pattern tables in emission order.
func DefaultFamilies() []Family {
	return []Family{
		{
			Name: FamilyCorrection,
			Rules: []Rule{
				correction(`my name is`),
				correction(`(?:i'm|i am)`),
				correction(`call me`),
			},
		},
		{
			Name:         FamilyName,
			SupersededBy: FamilyCorrection,
			Rules: []Rule{
				name(`my name is`),
				name(`i'm`),
				name(`i am`),
				name(`call me`),
			},
		},
		{
			Name: FamilyWork,
			Rules: []Rule{
				work(`i work as`, "User works as {1}"),
				work(`i work at`, "User works at {1}"),
				work(`i work in`, "User works in {1}"),
				// Only the user's own preposition is kept; none is invented.
				work(`my job is`, "User works {1}"),
				work(`i do`, "User works {1}"),
			},
		},
		{
			Name: FamilyPreference,
			Cue:  &Cue{Phrases: []string{"i like", "i love", "i enjoy", "my favorite", "i prefer"}},
		},
		{
			Name: FamilySkill,
			Cue:  &Cue{Phrases: []string{"i have experience", "i know", "i'm good at", "i specialize"}},
		},
		{
			Name: FamilyLocation,
			Rules: []Rule{
				location(`i live in`),
				location(`(?:i'm|i am) from`),
				location(`my city is`),
			},
		},
	}
}

func set(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}
