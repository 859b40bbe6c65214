// Package address normalizes free text station addresses before they are geocoded.
package address

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Rule rewrites every occurrence of From with To.
type Rule struct {
	From string
	To   string
}

// DefaultRules are the known abbreviations and misspellings found on the
// supported fuel price sites. They apply in order to the lower-cased address.
var DefaultRules = []Rule{
	{From: "berg.", To: "bergisch"},
	{From: "str.", To: "straße"},
	{From: "nierosta", To: "nirosta"},
	{From: "linz-kretzhaus", To: "vettelschoß"},
	{From: "wuelfrath", To: "velbert"},
	{From: "saaner", To: "saarner"},
	{From: "-thomasberg", To: ""},
}

// Normalizer rewrites addresses into the form the geocoder resolves best.
type Normalizer struct {
	rules []Rule
}

// New creates a Normalizer applying the given rules in order.
func New(rules ...Rule) *Normalizer {
	r := make([]Rule, 0, len(rules))
	for _, rule := range rules {
		if rule.From == "" {
			continue
		}
		r = append(r, Rule{From: strings.ToLower(rule.From), To: rule.To})
	}
	return &Normalizer{rules: r}
}

var defaultNormalizer = New(DefaultRules...)

// Normalize rewrites addr with DefaultRules.
func Normalize(addr string) string {
	return defaultNormalizer.Normalize(addr)
}

// Normalize lower-cases addr, collapses whitespace and applies the rewrite rules.
func (n *Normalizer) Normalize(addr string) string {
	// cases.Caser keeps state, so one is created per call.
	s := cases.Lower(language.German).String(norm.NFC.String(addr))
	s = strings.Join(strings.Fields(s), " ")
	for _, rule := range n.rules {
		s = strings.ReplaceAll(s, rule.From, rule.To)
	}
	return strings.TrimSpace(s)
}
