package safety

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/spec-kit/visit-engine/internal/domain"
)

//go:embed default_rules.yaml
var defaultRulesYAML []byte

// CallContext is the structured call state context rules inspect.
type CallContext struct {
	IdentityFailures   int             `json:"identity_failures"`
	LanguageMismatch   bool            `json:"language_mismatch"`
	ConsecutiveNoMatch int             `json:"consecutive_no_match"`
	Flags              map[string]bool `json:"flags,omitempty"`
}

// Rule is a closed set of variants: TextPatternRule and ContextPredicateRule.
type Rule interface {
	Reason() string
	Severity() domain.Severity
	match(normalized string, cc CallContext) (string, bool)
}

// TextPatternRule fires when any phrase occurs in the turn text on word
// boundaries, ignoring case and punctuation.
type TextPatternRule struct {
	reason   string
	severity domain.Severity
	patterns []string
}

// NewTextPatternRule normalizes patterns the same way turn text is.
func NewTextPatternRule(reason string, severity domain.Severity, patterns ...string) (*TextPatternRule, error) {
	rule := &TextPatternRule{reason: reason, severity: severity}
	for _, pattern := range patterns {
		normalized := Normalize(pattern)
		if normalized == "" {
			continue
		}
		rule.patterns = append(rule.patterns, normalized)
	}
	if len(rule.patterns) == 0 {
		return nil, fmt.Errorf("rule %q: no usable patterns", reason)
	}
	return rule, nil
}

func (r *TextPatternRule) Reason() string            { return r.reason }
func (r *TextPatternRule) Severity() domain.Severity { return r.severity }

func (r *TextPatternRule) match(normalized string, _ CallContext) (string, bool) {
	padded := " " + normalized + " "
	for _, pattern := range r.patterns {
		if strings.Contains(padded, " "+pattern+" ") {
			return pattern, true
		}
	}
	return "", false
}

// ContextPredicate is a declarative test over CallContext. Either Counter
// with AtLeast, or Flag, is set.
type ContextPredicate struct {
	Counter string `yaml:"counter"`
	AtLeast int    `yaml:"at_least"`
	Flag    string `yaml:"flag"`
}

const (
	counterIdentityFailures   = "identity_failures"
	counterConsecutiveNoMatch = "consecutive_no_match"
	flagLanguageMismatch      = "language_mismatch"
)

func (p ContextPredicate) validate() error {
	switch {
	case p.Counter != "" && p.Flag != "":
		return errors.New("predicate sets both counter and flag")
	case p.Counter != "":
		if p.Counter != counterIdentityFailures && p.Counter != counterConsecutiveNoMatch {
			return fmt.Errorf("unknown counter %q", p.Counter)
		}
		if p.AtLeast <= 0 {
			return fmt.Errorf("counter %q needs a positive at_least", p.Counter)
		}
	case p.Flag == "":
		return errors.New("predicate needs a counter or a flag")
	}
	return nil
}

func (p ContextPredicate) holds(cc CallContext) bool {
	if p.Flag != "" {
		if p.Flag == flagLanguageMismatch && cc.LanguageMismatch {
			return true
		}
		return cc.Flags[p.Flag]
	}
	switch p.Counter {
	case counterIdentityFailures:
		return cc.IdentityFailures >= p.AtLeast
	case counterConsecutiveNoMatch:
		return cc.ConsecutiveNoMatch >= p.AtLeast
	}
	return false
}

func (p ContextPredicate) String() string {
	if p.Flag != "" {
		return p.Flag
	}
	return fmt.Sprintf("%s>=%d", p.Counter, p.AtLeast)
}

// ContextPredicateRule fires when its predicate holds for the call state.
type ContextPredicateRule struct {
	reason    string
	severity  domain.Severity
	predicate ContextPredicate
}

// NewContextPredicateRule validates predicate.
func NewContextPredicateRule(reason string, severity domain.Severity, predicate ContextPredicate) (*ContextPredicateRule, error) {
	if err := predicate.validate(); err != nil {
		return nil, fmt.Errorf("rule %q: %w", reason, err)
	}
	return &ContextPredicateRule{reason: reason, severity: severity, predicate: predicate}, nil
}

func (r *ContextPredicateRule) Reason() string            { return r.reason }
func (r *ContextPredicateRule) Severity() domain.Severity { return r.severity }

func (r *ContextPredicateRule) match(_ string, cc CallContext) (string, bool) {
	if r.predicate.holds(cc) {
		return r.predicate.String(), true
	}
	return "", false
}

// RuleSet is an ordered list of rules; earlier rules take priority.
type RuleSet []Rule

type ruleFile struct {
	Rules []ruleSpec `yaml:"rules"`
}

type ruleSpec struct {
	Reason   string            `yaml:"reason"`
	Severity string            `yaml:"severity"`
	Patterns []string          `yaml:"patterns"`
	Context  *ContextPredicate `yaml:"context"`
}

// ParseRuleSet decodes a YAML rule file.
func ParseRuleSet(data []byte) (RuleSet, error) {
	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	if len(file.Rules) == 0 {
		return nil, errors.New("rule set is empty")
	}

	seen := make(map[string]struct{}, len(file.Rules))
	rules := make(RuleSet, 0, len(file.Rules))
	for i, spec := range file.Rules {
		if spec.Reason == "" {
			return nil, fmt.Errorf("rule %d: reason is required", i)
		}
		if _, dup := seen[spec.Reason]; dup {
			return nil, fmt.Errorf("rule %d: duplicate reason %q", i, spec.Reason)
		}
		seen[spec.Reason] = struct{}{}

		severity := domain.Severity(spec.Severity)
		if !severity.IsValid() {
			return nil, fmt.Errorf("rule %q: unknown severity %q", spec.Reason, spec.Severity)
		}

		var (
			rule Rule
			err  error
		)
		switch {
		case len(spec.Patterns) > 0 && spec.Context != nil:
			return nil, fmt.Errorf("rule %q: patterns and context are exclusive", spec.Reason)
		case len(spec.Patterns) > 0:
			rule, err = NewTextPatternRule(spec.Reason, severity, spec.Patterns...)
		case spec.Context != nil:
			rule, err = NewContextPredicateRule(spec.Reason, severity, *spec.Context)
		default:
			return nil, fmt.Errorf("rule %q: needs patterns or context", spec.Reason)
		}
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// DefaultRuleSet returns the built-in rules.
func DefaultRuleSet() (RuleSet, error) {
	return ParseRuleSet(defaultRulesYAML)
}

// LoadRuleSet reads rules from path, or the built-in set when path is empty.
func LoadRuleSet(path string) (RuleSet, error) {
	if path == "" {
		return DefaultRuleSet()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	return ParseRuleSet(data)
}

// Normalize lowercases text, drops apostrophes and folds every other
// non-alphanumeric rune into single spaces.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	space := true
	for _, r := range strings.ToLower(text) {
		switch {
		case r == '\'' || r == '’':
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		default:
			if !space {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	return strings.TrimRight(b.String(), " ")
}
