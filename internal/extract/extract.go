// Package extract turns raw user utterances into candidate memory strings.
//
// Extraction is table driven: each Family holds an ordered list of rules and
// contributes at most one match per utterance. New fact types are added by
// appending a Family, not by touching Extract.
package extract

import (
	"regexp"
	"strings"
)

// Rule is a single pattern and the sentences it produces.
// Templates reference capture groups as {1}, {2}, ...
type Rule struct {
	Pattern   *regexp.Regexp
	Templates []string
	// MinLen is the minimum length of every referenced capture, after trimming.
	MinLen int
	// Title title-cases captures before substitution.
	Title bool
	// Reject lists lowercased captures that disqualify the match.
	Reject map[string]bool
}

// Cue emits the untouched utterance when any phrase is present.
type Cue struct {
	Phrases []string
}

// Family is one kind of fact. Exactly one of Rules or Cue is set.
type Family struct {
	Name  string
	Rules []Rule
	Cue   *Cue
	// SupersededBy names an earlier family whose match suppresses this one.
	SupersededBy string
}

// Extractor applies families in order.
type Extractor struct {
	families []Family
}

// New returns an Extractor over the given families. With no arguments the
// default English families are used.
func New(families ...Family) *Extractor {
	if len(families) == 0 {
		families = DefaultFamilies()
	}
	return &Extractor{families: families}
}

var defaultExtractor = New()

// Candidates runs the default extractor.
func Candidates(text string) []string {
	return defaultExtractor.Extract(text)
}

// Extract returns zero or more candidate facts in family order.
func (e *Extractor) Extract(text string) []string {
	text = normalize(text)
	if text == "" {
		return nil
	}
	lower := strings.ToLower(text)

	var out []string
	matched := make(map[string]bool, len(e.families))
	for _, f := range e.families {
		if f.SupersededBy != "" && matched[f.SupersededBy] {
			continue
		}
		var produced []string
		if f.Cue != nil {
			produced = f.Cue.apply(text, lower)
		} else {
			for _, r := range f.Rules {
				if produced = r.apply(text); produced != nil {
					break
				}
			}
		}
		if len(produced) > 0 {
			matched[f.Name] = true
			out = append(out, produced...)
		}
	}
	return out
}

func (c *Cue) apply(text, lower string) []string {
	for _, p := range c.Phrases {
		if containsPhrase(lower, p) {
			return []string{text}
		}
	}
	return nil
}

// containsPhrase is strings.Contains that refuses matches glued to a
// preceding letter, so "hi like" does not contain "i like".
func containsPhrase(s, phrase string) bool {
	for off := 0; ; {
		i := strings.Index(s[off:], phrase)
		if i < 0 {
			return false
		}
		i += off
		if i == 0 || !isLetter(s[i-1]) {
			return true
		}
		off = i + 1
	}
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func (r Rule) apply(text string) []string {
	m := r.Pattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	groups := make([]string, len(m))
	for i := 1; i < len(m); i++ {
		g := cleanCapture(m[i])
		if r.rejects(g) {
			return nil
		}
		if r.Title {
			g = TitleCase(g)
		}
		groups[i] = g
	}

	out := make([]string, 0, len(r.Templates))
	for _, tmpl := range r.Templates {
		s, ok := r.expand(tmpl, groups)
		if !ok {
			return nil
		}
		out = append(out, s)
	}
	return out
}

// rejects reports whether the capture, or its first word, is in Reject.
func (r Rule) rejects(g string) bool {
	if len(r.Reject) == 0 || g == "" {
		return false
	}
	lower := strings.ToLower(g)
	if r.Reject[lower] {
		return true
	}
	first, _, _ := strings.Cut(lower, " ")
	return r.Reject[first]
}

func (r Rule) expand(tmpl string, groups []string) (string, bool) {
	var b strings.Builder
	for i := 0; i < len(tmpl); i++ {
		if tmpl[i] == '{' && i+2 < len(tmpl) && tmpl[i+2] == '}' && tmpl[i+1] >= '1' && tmpl[i+1] <= '9' {
			idx := int(tmpl[i+1] - '0')
			if idx >= len(groups) {
				return "", false
			}
			g := groups[idx]
			if g == "" || len(g) < r.MinLen {
				return "", false
			}
			b.WriteString(g)
			i += 2
			continue
		}
		b.WriteByte(tmpl[i])
	}
	return b.String(), true
}

// TitleCase upper-cases the first letter of every whitespace-separated word
// and lower-cases the rest, so "J.P." becomes "J.p.".
func TitleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		rs := []rune(strings.ToLower(w))
		rs[0] = []rune(strings.ToUpper(string(rs[0])))[0]
		words[i] = string(rs)
	}
	return strings.Join(words, " ")
}

func cleanCapture(s string) string {
	s = strings.TrimRight(strings.TrimSpace(s), ",;:!? ")
	// A lone trailing period ends the sentence; initials like "J.P." keep theirs.
	if strings.Count(s, ".") == 1 && strings.HasSuffix(s, ".") {
		s = strings.TrimSuffix(s, ".")
	}
	return s
}

var apostrophes = strings.NewReplacer("’", "'", "‘", "'")

func normalize(text string) string {
	return strings.TrimSpace(apostrophes.Replace(text))
}
