// Package codeinput models a fixed-length, segmented one-time-code entry.
//
// Each slot accepts a single character matching the slot pattern. The
// OnComplete callback fires once every time the input goes from partially
// filled to fully filled.
package codeinput

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	DefaultLength  = 6
	DefaultPattern = "[0-9]"
	DefaultName    = "token"
)

var ErrInvalidCode = errors.New("invalid code")

// Config describes the widget.
type Config struct {
	Length     int
	Pattern    string
	ID         string
	Name       string
	OnComplete func(value string)
}

// Input holds the slots of one rendered widget.
type Input struct {
	cfg     Config
	pattern *regexp.Regexp
	slots   []rune
	fired   bool
}

// New creates an Input, filling unset fields with the defaults.
func New(cfg Config) (*Input, error) {
	if cfg.Length <= 0 {
		cfg.Length = DefaultLength
	}
	if cfg.Pattern == "" {
		cfg.Pattern = DefaultPattern
	}
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.ID == "" {
		cfg.ID = cfg.Name
	}
	re, err := regexp.Compile("^(?:" + cfg.Pattern + ")$")
	if err != nil {
		return nil, fmt.Errorf("codeinput: bad pattern %q: %w", cfg.Pattern, err)
	}
	return &Input{
		cfg:     cfg,
		pattern: re,
		slots:   make([]rune, cfg.Length),
	}, nil
}

// MustNew is New for static configurations.
func MustNew(cfg Config) *Input {
	in, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return in
}

func (in *Input) Length() int     { return in.cfg.Length }
func (in *Input) Pattern() string { return in.cfg.Pattern }
func (in *Input) ID() string      { return in.cfg.ID }
func (in *Input) Name() string    { return in.cfg.Name }

// Accepts reports whether r may occupy a slot.
func (in *Input) Accepts(r rune) bool {
	return in.pattern.MatchString(string(r))
}

// Type puts r into slot i. Characters that do not match the pattern are
// rejected and leave the slot untouched.
func (in *Input) Type(i int, r rune) bool {
	if i < 0 || i >= len(in.slots) || !in.Accepts(r) {
		return false
	}
	in.slots[i] = r
	in.settle()
	return true
}

// Paste fills slots starting at from, skipping characters that do not
// match and stopping at the last slot. It returns the number of slots filled.
func (in *Input) Paste(from int, s string) int {
	if from < 0 {
		from = 0
	}
	n := 0
	i := from
	for _, r := range s {
		if i >= len(in.slots) {
			break
		}
		if !in.Accepts(r) {
			continue
		}
		in.slots[i] = r
		i++
		n++
	}
	if n > 0 {
		in.settle()
	}
	return n
}

// Backspace clears slot i.
func (in *Input) Backspace(i int) {
	if i < 0 || i >= len(in.slots) {
		return
	}
	in.slots[i] = 0
	in.settle()
}

// Clear empties every slot.
func (in *Input) Clear() {
	for i := range in.slots {
		in.slots[i] = 0
	}
	in.settle()
}

// Complete reports whether every slot is filled.
func (in *Input) Complete() bool {
	for _, r := range in.slots {
		if r == 0 {
			return false
		}
	}
	return true
}

// Value assembles the filled slots in order.
func (in *Input) Value() string {
	var b strings.Builder
	for _, r := range in.slots {
		if r != 0 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Focus is the slot that should hold the cursor: the first empty one, or
// the last slot when full. A fresh input focuses slot 0.
func (in *Input) Focus() int {
	for i, r := range in.slots {
		if r == 0 {
			return i
		}
	}
	return len(in.slots) - 1
}

// Slots returns the slot indexes, for templates.
func (in *Input) Slots() []int {
	out := make([]int, len(in.slots))
	for i := range out {
		out[i] = i
	}
	return out
}

// Validate checks a submitted code against the widget's length and pattern.
func (in *Input) Validate(raw string) (string, error) {
	code := strings.TrimSpace(raw)
	runes := []rune(code)
	if len(runes) != in.cfg.Length {
		return "", ErrInvalidCode
	}
	for _, r := range runes {
		if !in.Accepts(r) {
			return "", ErrInvalidCode
		}
	}
	return code, nil
}

func (in *Input) settle() {
	if !in.Complete() {
		in.fired = false
		return
	}
	if in.fired {
		return
	}
	in.fired = true
	if in.cfg.OnComplete != nil {
		in.cfg.OnComplete(in.Value())
	}
}
