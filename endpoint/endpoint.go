// Package endpoint decides when an utterance has ended from the trailing
// silence of the best path, the utterance length and how close the search
// is to a final state.
package endpoint

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/ieee0824/livedecode-go/asrerr"
	"github.com/ieee0824/livedecode-go/internal/validation"
)

// Rule fires when every one of its conditions holds. Lengths are in
// seconds.
type Rule struct {
	MustContainNonsilence bool    `flag:"must-contain-nonsilence"`
	MinTrailingSilence    float64 `flag:"min-trailing-silence" validate:"gte=0"`
	MaxRelativeCost       float64 `flag:"max-relative-cost" validate:"gte=0"`
	MinUtteranceLength    float64 `flag:"min-utterance-length" validate:"gte=0"`
}

// Config holds the silence phones and the five rules.
type Config struct {
	// SilencePhones is a colon-separated list of phone ids, e.g. "1:2:3".
	SilencePhones string `flag:"endpoint.silence-phones"`

	// Rule1 times out after 5 seconds of silence, even if nothing was
	// decoded.
	Rule1 Rule
	// Rule2 fires after 0.5 seconds of silence if a final state was
	// reached with good probability.
	Rule2 Rule
	// Rule3 fires after 1 second of silence if a final state was reached
	// with acceptable probability.
	Rule3 Rule
	// Rule4 fires after 2 seconds of silence regardless of final state.
	Rule4 Rule
	// Rule5 caps the utterance length.
	Rule5 Rule
}

// DefaultConfig returns the standard rules with no silence phones.
func DefaultConfig() Config {
	inf := math.Inf(1)
	return Config{
		Rule1: Rule{MustContainNonsilence: false, MinTrailingSilence: 5.0, MaxRelativeCost: inf},
		Rule2: Rule{MustContainNonsilence: true, MinTrailingSilence: 0.5, MaxRelativeCost: 2.0},
		Rule3: Rule{MustContainNonsilence: true, MinTrailingSilence: 1.0, MaxRelativeCost: 8.0},
		Rule4: Rule{MustContainNonsilence: true, MinTrailingSilence: 2.0, MaxRelativeCost: inf},
		Rule5: Rule{MustContainNonsilence: false, MinTrailingSilence: 0, MaxRelativeCost: inf, MinUtteranceLength: 20},
	}
}

// Register binds the options to fs using endpoint.ruleN.* names.
func (c *Config) Register(fs *pflag.FlagSet) {
	fs.StringVar(&c.SilencePhones, "endpoint.silence-phones", c.SilencePhones,
		"colon-separated list of integer ids of silence phones, e.g. 1:2:3")
	for i, r := range c.rules() {
		p := fmt.Sprintf("endpoint.rule%d.", i+1)
		fs.BoolVar(&r.MustContainNonsilence, p+"must-contain-nonsilence", r.MustContainNonsilence,
			"if true, the rule only fires once something other than silence was decoded")
		fs.Float64Var(&r.MinTrailingSilence, p+"min-trailing-silence", r.MinTrailingSilence,
			"the rule fires only after this many seconds of trailing silence")
		fs.Float64Var(&r.MaxRelativeCost, p+"max-relative-cost", r.MaxRelativeCost,
			"the rule fires only if the final relative cost is at most this")
		fs.Float64Var(&r.MinUtteranceLength, p+"min-utterance-length", r.MinUtteranceLength,
			"the rule fires only if the utterance is at least this many seconds long")
	}
}

func (c *Config) rules() []*Rule {
	return []*Rule{&c.Rule1, &c.Rule2, &c.Rule3, &c.Rule4, &c.Rule5}
}

// Validate checks the rules and the silence phone list.
func (c Config) Validate() error {
	var errs []error
	if err := validation.Struct("endpoint config", c); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseSilencePhones(c.SilencePhones); err != nil {
		errs = append(errs, err)
	}
	return validation.Join("endpoint config", errs...)
}

// ParseSilencePhones parses a colon-separated phone list. The empty string
// yields an empty set.
func ParseSilencePhones(s string) (map[int]bool, error) {
	set := make(map[int]bool)
	s = strings.TrimSpace(s)
	if s == "" {
		return set, nil
	}
	for _, f := range strings.Split(s, ":") {
		id, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil || id <= 0 {
			return nil, asrerr.New(asrerr.ConfigInvalid, "endpoint config",
				"endpoint.silence-phones: invalid phone id %q", f)
		}
		set[id] = true
	}
	return set, nil
}

// Stats describes the utterance so far. Lengths are in seconds.
type Stats struct {
	UtteranceLength float64
	TrailingSilence float64
	// RelativeCost is the search's final relative cost; +Inf when no final
	// state is active.
	RelativeCost float64
}

// Activated reports whether r fires for s.
func (r Rule) Activated(s Stats) bool {
	containsNonsilence := s.UtteranceLength > s.TrailingSilence
	return (containsNonsilence || !r.MustContainNonsilence) &&
		s.TrailingSilence >= r.MinTrailingSilence &&
		s.RelativeCost <= r.MaxRelativeCost &&
		s.UtteranceLength >= r.MinUtteranceLength
}

// Detected returns the number (1 to 5) of the first rule that fires.
func (c Config) Detected(s Stats) (rule int, ok bool) {
	for i, r := range c.rules() {
		if r.Activated(s) {
			return i + 1, true
		}
	}
	return 0, false
}

// PhoneMapper maps a transition id to its phone.
type PhoneMapper interface {
	TransitionIDToPhone(tid int) int
}

// TrailingSilenceFrames counts the frames at the end of tids whose phone is
// a silence phone.
func TrailingSilenceFrames(tids []int, tm PhoneMapper, silence map[int]bool) int {
	n := 0
	for i := len(tids) - 1; i >= 0; i-- {
		if !silence[tm.TransitionIDToPhone(tids[i])] {
			break
		}
		n++
	}
	return n
}
