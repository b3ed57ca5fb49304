package rules

import (
	"context"

	"github.com/rxwycdh/rxhash"
)

// Matcher is the engine contract rule sets satisfy.
type Matcher interface {
	Match(ctx context.Context, content []byte) (bool, error)
}

// Named is an engine built from a rule source.
type Named struct {
	Name        string
	Source      string
	Fingerprint string
	Engine      Matcher
}

// RuleSet matches when any of its rules matches. Case-sensitive literals
// share one Aho-Corasick automaton; the rest are tried in order.
type RuleSet struct {
	literals *ahoAutomaton
	rules    []Rule
	descs    []string
}

func NewRuleSet(rs []Rule) *RuleSet {
	set := &RuleSet{}
	var lits [][]byte
	for _, r := range rs {
		set.descs = append(set.descs, r.Desc())
		if p, ok := r.(*PlainRule); ok && !p.insensitive {
			lits = append(lits, p.s)
			continue
		}
		set.rules = append(set.rules, r)
	}
	if len(lits) > 0 {
		set.literals = buildAho(lits)
	}
	return set
}

func (s *RuleSet) Len() int { return len(s.descs) }

// Rules returns the rule descriptions in file order.
func (s *RuleSet) Rules() []string { return append([]string(nil), s.descs...) }

func (s *RuleSet) Match(ctx context.Context, content []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s.literals.matchAny(content) {
		return true, nil
	}
	for _, r := range s.rules {
		if r.Match(content) {
			return true, nil
		}
	}
	return false, ctx.Err()
}

// Fingerprint identifies the rule content, so reloads of unchanged files
// can be skipped.
func (s *RuleSet) Fingerprint() string {
	fp, err := rxhash.HashStruct(struct{ Rules []string }{s.descs})
	if err != nil {
		return ""
	}
	return fp
}
