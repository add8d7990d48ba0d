package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// StreamRule describes which firehose posts are worth keeping.
type StreamRule struct {
	// Name identifies the rule in logs.
	Name string `yaml:"name"`

	// Keywords are the terms to match against post text using word boundaries.
	Keywords []string `yaml:"keywords"`

	// Langs restricts matches to posts tagged with at least one of these
	// language codes. An empty slice means no language filter.
	Langs []string `yaml:"langs"`
}

// IncomingPost is a post observed on the firehose before it is matched.
type IncomingPost struct {
	URI       string
	CID       string
	AuthorDID string
	Text      string
	CreatedAt string
	Langs     []string
}

// rule holds the compiled matching state for a single stream rule.
type rule struct {
	name    string
	pattern *regexp.Regexp
	langs   map[string]struct{} // nil means no filter
}

// StreamMatcher matches incoming firehose posts against a set of rules.
type StreamMatcher struct {
	rules []*rule
}

// NewStreamMatcher compiles rules. Every rule needs at least one keyword.
func NewStreamMatcher(rules []StreamRule) (*StreamMatcher, error) {
	m := &StreamMatcher{rules: make([]*rule, 0, len(rules))}

	for _, cfg := range rules {
		if len(cfg.Keywords) == 0 {
			return nil, fmt.Errorf("stream rule %q: at least one keyword is required", cfg.Name)
		}

		escaped := make([]string, len(cfg.Keywords))
		for i, kw := range cfg.Keywords {
			escaped[i] = regexp.QuoteMeta(kw)
		}

		expr := `(?i)\b(?:` + strings.Join(escaped, "|") + `)\b`
		pattern, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("stream rule %q: compile keyword pattern: %w", cfg.Name, err)
		}

		r := &rule{name: cfg.Name, pattern: pattern}
		if len(cfg.Langs) > 0 {
			r.langs = make(map[string]struct{}, len(cfg.Langs))
			for _, l := range cfg.Langs {
				r.langs[l] = struct{}{}
			}
		}
		m.rules = append(m.rules, r)
	}

	return m, nil
}

// Match returns the name of the first rule the post satisfies.
func (m *StreamMatcher) Match(incoming *IncomingPost) (string, bool) {
	for _, r := range m.rules {
		if matchesRule(r, incoming) {
			return r.name, true
		}
	}
	return "", false
}

func matchesRule(r *rule, incoming *IncomingPost) bool {
	if r.langs != nil {
		matched := false
		for _, l := range incoming.Langs {
			if _, ok := r.langs[l]; ok {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return r.pattern.MatchString(incoming.Text)
}

// SinglePost converts a matched firehose post into a storable record. The
// author's handle is not part of the event, so Username stays empty.
func (p *IncomingPost) SinglePost(collectedAt string) SinglePost {
	return SinglePost{
		UserID: p.AuthorDID,
		Post: Post{
			URI:       p.URI,
			CID:       p.CID,
			Text:      Sanitize(p.Text),
			CreatedAt: p.CreatedAt,
		},
		CollectedAt: collectedAt,
	}
}
