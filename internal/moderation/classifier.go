package moderation

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ContentKind 검수 대상 종류
type ContentKind string

const (
	KindText  ContentKind = "text"
	KindImage ContentKind = "image"
	KindShape ContentKind = "shape"
)

// Content is what the classifier sees of an element.
type Content struct {
	WhiteboardID   string      `json:"whiteboardId"`
	ElementID      string      `json:"elementId"`
	ContentVersion uint64      `json:"contentVersion"`
	Kind           ContentKind `json:"kind"`
	Text           string      `json:"text,omitempty"`
	ImageRef       string      `json:"imageRef,omitempty"`
}

// Result is a classifier score in [0, 1] plus optional labels.
type Result struct {
	Score  float64  `json:"score"`
	Labels []string `json:"labels,omitempty"`
	Reason string   `json:"reason,omitempty"`
}

// Classifier scores content. Implementations must honor ctx cancellation.
type Classifier interface {
	Classify(ctx context.Context, c Content) (Result, error)
}

// Term is one weighted pattern of a keyword policy.
type Term struct {
	Pattern string  `yaml:"pattern"`
	Weight  float64 `yaml:"weight"`
	Label   string  `yaml:"label"`
}

// Policy 키워드 검수 정책 (YAML)
type Policy struct {
	Threshold float64 `yaml:"threshold"`
	Terms     []Term  `yaml:"terms"`
}

// ParsePolicy decodes a YAML keyword policy.
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse moderation policy: %w", err)
	}
	for i, t := range p.Terms {
		if t.Pattern == "" {
			return nil, fmt.Errorf("moderation policy: term %d has empty pattern", i)
		}
		if t.Weight <= 0 || t.Weight > 1 {
			return nil, fmt.Errorf("moderation policy: term %q weight must be in (0, 1]", t.Pattern)
		}
	}
	if p.Threshold < 0 || p.Threshold > 1 {
		return nil, fmt.Errorf("moderation policy: threshold must be in [0, 1]")
	}
	return &p, nil
}

// LoadPolicy reads a YAML keyword policy from disk.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read moderation policy: %w", err)
	}
	return ParsePolicy(data)
}

// DefaultPolicy is used when no policy file is configured.
func DefaultPolicy() *Policy {
	return &Policy{
		Threshold: 0.7,
		Terms: []Term{
			{Pattern: "kill yourself", Weight: 1, Label: "self-harm"},
			{Pattern: "nazi", Weight: 0.8, Label: "hate"},
			{Pattern: "porn", Weight: 0.9, Label: "sexual"},
			{Pattern: "idiot", Weight: 0.3, Label: "insult"},
			{Pattern: "stupid", Weight: 0.3, Label: "insult"},
		},
	}
}

// KeywordClassifier scores text by combining the weights of matched policy terms.
// Images are passed through with a zero score.
type KeywordClassifier struct {
	terms []Term
}

// NewKeywordClassifier builds a classifier from a policy.
func NewKeywordClassifier(p *Policy) *KeywordClassifier {
	terms := make([]Term, len(p.Terms))
	for i, t := range p.Terms {
		t.Pattern = strings.ToLower(t.Pattern)
		terms[i] = t
	}
	return &KeywordClassifier{terms: terms}
}

func (k *KeywordClassifier) Classify(ctx context.Context, c Content) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if c.Kind != KindText || c.Text == "" {
		return Result{Reason: "no text content"}, nil
	}

	text := strings.ToLower(c.Text)
	miss := 1.0
	seen := make(map[string]bool)
	for _, t := range k.terms {
		if !strings.Contains(text, t.Pattern) {
			continue
		}
		miss *= 1 - t.Weight
		if t.Label != "" {
			seen[t.Label] = true
		}
	}

	res := Result{Score: 1 - miss}
	for label := range seen {
		res.Labels = append(res.Labels, label)
	}
	sort.Strings(res.Labels)
	if len(res.Labels) > 0 {
		res.Reason = "matched " + strings.Join(res.Labels, ", ")
	}
	return res, nil
}
