package agg

import (
	"fmt"
	"slices"

	"github.com/mongodb/grip/level"
	"github.com/mongodb/grip/message"
)

// gate is the one-shot condition set by If and consumed by the next stage
// call, admitted or not.
type gate int

const (
	gateOpen gate = iota
	gateArmed
	gateBlocked
)

// consume reports whether the gate lets the next stage through and resets
// it to open.
func (g *gate) consume() bool {
	pass := *g != gateBlocked
	*g = gateOpen
	return pass
}

// If arms the gate for the next stage call: a false condition suppresses
// exactly that call, a true one admits it. Without an If every stage is
// admitted.
func (b *Builder) If(condition bool) *Builder {
	if condition {
		b.gate = gateArmed
	} else {
		b.gate = gateBlocked
	}
	return b
}

// openStage decides whether a stage named name (without "$") is added.
// The order of the checks is part of the contract: the If gate is always
// consumed, then Alone, NotOnly and Only are applied.
func (b *Builder) openStage(name string, opts Options) bool {
	if !b.gate.consume() {
		b.skipped(name, "condition is false")
		return false
	}
	if b.err != nil {
		return false
	}

	if opts.Alone != "" {
		key := fmt.Sprintf("%s_%s", opts.Alone, name)
		if _, ok := b.alones[key]; ok {
			b.skipped(name, fmt.Sprintf("already added alone as %q", opts.Alone))
			return false
		}
		b.alones[key] = opts.Alone
		return true
	}
	if opts.NotOnly != "" && !b.hasAlone(opts.NotOnly) {
		b.skipped(name, fmt.Sprintf("no stage was added alone as %q", opts.NotOnly))
		return false
	}
	if opts.Only != "" && b.hasAlone(opts.Only) {
		b.skipped(name, fmt.Sprintf("a stage was added alone as %q", opts.Only))
		return false
	}
	return true
}

func (b *Builder) hasAlone(label string) bool {
	for _, l := range b.alones {
		if l == label {
			return true
		}
	}
	return false
}

// Alones returns the labels registered by stages added with Alone, sorted.
func (b *Builder) Alones() []string {
	labels := make([]string, 0, len(b.alones))
	for _, l := range b.alones {
		if !slices.Contains(labels, l) {
			labels = append(labels, l)
		}
	}
	slices.Sort(labels)
	return labels
}

func (b *Builder) skipped(stage, reason string) {
	b.sender.Send(message.NewFieldsMessage(level.Debug, "skipping stage", message.Fields{
		"stage":  stage,
		"reason": reason,
	}))
}
