// Package batch provides the batch command sequencer and its directive parser
package batch

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the interpreted meaning of a script line
type Kind int

const (
	KindBlank Kind = iota
	KindComment
	KindDelaySeconds
	KindDelayMillis
	KindRandomDelay
	KindLiteral
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindBlank:
		return "blank"
	case KindComment:
		return "comment"
	case KindDelaySeconds:
		return "delay"
	case KindDelayMillis:
		return "delay_ms"
	case KindRandomDelay:
		return "rand_delay"
	case KindLiteral:
		return "literal"
	default:
		return "unknown"
	}
}

// Directive is the parsed form of one script line
type Directive struct {
	Kind Kind

	// Text is the trimmed line; it is what gets sent for KindLiteral
	Text string

	Seconds   float64 // KindDelaySeconds
	Millis    uint64  // KindDelayMillis
	MinMillis uint32  // KindRandomDelay
	MaxMillis uint32  // KindRandomDelay
}

var (
	reComment   = regexp.MustCompile(`(?i)^comment\(.*\)$`)
	reDelaySec  = regexp.MustCompile(`(?i)^delay\(\s*([0-9]+(?:\.[0-9]+)?)\s*\)$`)
	reDelayMs   = regexp.MustCompile(`(?i)^delay_ms\(\s*([0-9]+)\s*\)$`)
	reRandDelay = regexp.MustCompile(`(?i)^rand_delay\(\s*([0-9]+)\s*,\s*([0-9]+)\s*\)$`)
)

// maxDelayMillis is the largest millisecond count a time.Duration can hold
const maxDelayMillis = uint64(math.MaxInt64 / int64(time.Millisecond))

// ParseDirective classifies a raw script line.
//
// Matching order is fixed: blank, comment, delay, delay_ms, rand_delay and
// finally literal. A line whose shape matches a delay form but whose number
// cannot be represented is treated as a literal.
func ParseDirective(raw string) Directive {
	text := strings.TrimSpace(raw)
	literal := Directive{Kind: KindLiteral, Text: text}

	if text == "" {
		return Directive{Kind: KindBlank}
	}

	if strings.HasPrefix(text, "#") || reComment.MatchString(text) {
		return Directive{Kind: KindComment, Text: text}
	}

	if m := reDelaySec.FindStringSubmatch(text); m != nil {
		secs, err := strconv.ParseFloat(m[1], 64)
		if err != nil || math.IsInf(secs, 0) || math.Round(secs*1000) > float64(maxDelayMillis) {
			return literal
		}
		return Directive{Kind: KindDelaySeconds, Text: text, Seconds: secs}
	}

	if m := reDelayMs.FindStringSubmatch(text); m != nil {
		ms, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil || ms > maxDelayMillis {
			return literal
		}
		return Directive{Kind: KindDelayMillis, Text: text, Millis: ms}
	}

	if m := reRandDelay.FindStringSubmatch(text); m != nil {
		lo, err := strconv.ParseUint(m[1], 10, 32)
		if err != nil {
			return literal
		}
		hi, err := strconv.ParseUint(m[2], 10, 32)
		if err != nil {
			return literal
		}
		return Directive{Kind: KindRandomDelay, Text: text, MinMillis: uint32(lo), MaxMillis: uint32(hi)}
	}

	return literal
}

// IsDelay reports whether the directive suspends the run
func (d Directive) IsDelay() bool {
	return d.Kind == KindDelaySeconds || d.Kind == KindDelayMillis || d.Kind == KindRandomDelay
}

// Delay returns the fixed delay of a delay or delay_ms directive.
// Random delays and non-delay directives return 0.
func (d Directive) Delay() time.Duration {
	switch d.Kind {
	case KindDelaySeconds:
		return time.Duration(math.Round(d.Seconds*1000)) * time.Millisecond
	case KindDelayMillis:
		return time.Duration(d.Millis) * time.Millisecond
	default:
		return 0
	}
}

// Range returns the well-ordered bounds of a rand_delay directive
func (d Directive) Range() (lo, hi uint32) {
	lo, hi = d.MinMillis, d.MaxMillis
	if lo > hi {
		lo, hi = hi, lo
	}
	return lo, hi
}

// String returns a canonical rendering of the directive
func (d Directive) String() string {
	switch d.Kind {
	case KindBlank:
		return "blank"
	case KindComment:
		return "comment"
	case KindDelaySeconds:
		return fmt.Sprintf("delay %s", d.Delay())
	case KindDelayMillis:
		return fmt.Sprintf("delay_ms %s", d.Delay())
	case KindRandomDelay:
		lo, hi := d.Range()
		return fmt.Sprintf("rand_delay %d-%d ms", lo, hi)
	case KindLiteral:
		return fmt.Sprintf("send %q", d.Text)
	default:
		return d.Kind.String()
	}
}

// formatSeconds renders seconds the way the delay log line expects:
// no trailing zeros, no exponent for ordinary values.
func formatSeconds(secs float64) string {
	return strconv.FormatFloat(secs, 'f', -1, 64)
}
