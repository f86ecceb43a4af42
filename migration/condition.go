package migration

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/hashicorp/go-version"
)

// ConditionTrait names the node attribute a MigrationCondition evaluates.
type ConditionTrait string

const (
	TraitKernel       ConditionTrait = "kernel"
	TraitLSBRelease    ConditionTrait = "lsbrelease"
	TraitInstanceType ConditionTrait = "instance_type"
	TraitUptime       ConditionTrait = "uptime"
)

// ConditionOperator names the comparison a MigrationCondition performs.
type ConditionOperator string

const (
	OpLessThan     ConditionOperator = "lt"
	OpLessEqual    ConditionOperator = "le"
	OpEqual        ConditionOperator = "eq"
	OpNotEqual     ConditionOperator = "ne"
	OpGreaterEqual ConditionOperator = "ge"
	OpGreaterThan  ConditionOperator = "gt"
	OpIn           ConditionOperator = "in"
	OpNotIn        ConditionOperator = "notin"
)

// orderedOperators compare via a three-way ordering and are legal against
// any trait that resolves to a single parsed/numeric value (kernel,
// lsbrelease, uptime).
var orderedOperators = map[ConditionOperator]bool{
	OpLessThan: true, OpLessEqual: true, OpEqual: true, OpNotEqual: true, OpGreaterEqual: true, OpGreaterThan: true,
}

// listOperators test set membership and are legal only against list-shaped
// traits (instance_type).
var listOperators = map[ConditionOperator]bool{OpIn: true, OpNotIn: true}

// MigrationCondition is a single trait/operator/target triple evaluated
// against a node's metadata. Conditions round-trip through Serialize and
// ParseCondition without loss: parsing the output of serializing a
// condition always reproduces an equal condition.
type MigrationCondition struct {
	Trait    ConditionTrait
	Operator ConditionOperator

	// Exactly one of the following is populated, selected by Trait.
	kernelTarget   *semver.Version  // kernel versions, compared via semver ordering
	lsbTarget      *version.Version // distro release strings, compared via go-version's looser ordering
	stringTargets  []string         // lowercased, for TraitInstanceType (one entry for OpEqual/OpNotEqual)
	durationTarget time.Duration
	rawTarget      string // original target text, preserved for Serialize
}

// ParseCondition builds a MigrationCondition from its wire representation:
// trait, operator, and a target string whose grammar depends on trait.
func ParseCondition(trait ConditionTrait, op ConditionOperator, target string) (*MigrationCondition, error) {
	c := &MigrationCondition{Trait: trait, Operator: op, rawTarget: target}

	switch trait {
	case TraitKernel:
		if listOperators[op] {
			return nil, fmt.Errorf("migration condition: operator %q invalid for trait %q", op, trait)
		}
		v, err := semver.NewVersion(target)
		if err != nil {
			return nil, fmt.Errorf("migration condition: unparsable %s target %q: %w", trait, target, err)
		}
		c.kernelTarget = v

	case TraitLSBRelease:
		if listOperators[op] {
			return nil, fmt.Errorf("migration condition: operator %q invalid for trait %q", op, trait)
		}
		v, err := version.NewVersion(target)
		if err != nil {
			return nil, fmt.Errorf("migration condition: unparsable %s target %q: %w", trait, target, err)
		}
		c.lsbTarget = v

	case TraitInstanceType:
		switch op {
		case OpIn, OpNotIn:
			for _, part := range strings.Split(target, ",") {
				t := strings.ToLower(strings.TrimSpace(part))
				if t == "" {
					continue
				}
				c.stringTargets = append(c.stringTargets, t)
			}
			if len(c.stringTargets) == 0 {
				return nil, fmt.Errorf("migration condition: empty instance_type target list")
			}
		case OpEqual, OpNotEqual:
			t := strings.ToLower(strings.TrimSpace(target))
			if t == "" {
				return nil, fmt.Errorf("migration condition: empty instance_type target")
			}
			c.stringTargets = []string{t}
		default:
			return nil, fmt.Errorf("migration condition: operator %q invalid for trait %q, only %q/%q/%q/%q are supported", op, trait, OpIn, OpNotIn, OpEqual, OpNotEqual)
		}

	case TraitUptime:
		if !orderedOperators[op] {
			return nil, fmt.Errorf("migration condition: operator %q invalid for trait %q", op, trait)
		}
		d, err := parseUptimeTarget(target)
		if err != nil {
			return nil, fmt.Errorf("migration condition: unparsable uptime target %q: %w", target, err)
		}
		c.durationTarget = d

	default:
		return nil, fmt.Errorf("migration condition: unknown trait %q", trait)
	}

	return c, nil
}

// parseUptimeTarget accepts either a bare integer number of seconds, or an
// integer followed by a unit suffix (s, m, h, d), e.g. "30d" or "1337".
func parseUptimeTarget(target string) (time.Duration, error) {
	if n, err := strconv.ParseInt(target, 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}

	if len(target) < 2 {
		return 0, fmt.Errorf("too short")
	}
	unit := target[len(target)-1]
	n, err := strconv.ParseInt(target[:len(target)-1], 10, 64)
	if err != nil {
		return 0, err
	}

	var mult time.Duration
	switch unit {
	case 's':
		mult = time.Second
	case 'm':
		mult = time.Minute
	case 'h':
		mult = time.Hour
	case 'd':
		mult = 24 * time.Hour
	default:
		return 0, fmt.Errorf("unknown unit suffix %q", string(unit))
	}
	return time.Duration(n) * mult, nil
}

// Matches reports whether the given node trait value satisfies the
// condition. kernel/lsbrelease are compared as parsed versions,
// instance_type membership is case-insensitive, and uptime is compared as a
// duration against the parsed target.
func (c *MigrationCondition) Matches(agentVersion, instanceType string, uptime time.Duration) (bool, error) {
	switch c.Trait {
	case TraitKernel:
		v, err := semver.NewVersion(agentVersion)
		if err != nil {
			return false, fmt.Errorf("migration condition: unparsable node %s %q: %w", c.Trait, agentVersion, err)
		}
		return compareOrdered(v.Compare(c.kernelTarget), c.Operator), nil

	case TraitLSBRelease:
		v, err := version.NewVersion(agentVersion)
		if err != nil {
			return false, fmt.Errorf("migration condition: unparsable node %s %q: %w", c.Trait, agentVersion, err)
		}
		return compareOrdered(v.Compare(c.lsbTarget), c.Operator), nil

	case TraitInstanceType:
		lowered := strings.ToLower(instanceType)
		member := false
		for _, t := range c.stringTargets {
			if t == lowered {
				member = true
				break
			}
		}
		switch c.Operator {
		case OpIn, OpEqual:
			return member, nil
		case OpNotIn, OpNotEqual:
			return !member, nil
		}
		return false, fmt.Errorf("migration condition: unknown operator %q for trait %q", c.Operator, c.Trait)

	case TraitUptime:
		cmp := 0
		switch {
		case uptime < c.durationTarget:
			cmp = -1
		case uptime > c.durationTarget:
			cmp = 1
		}
		return compareOrdered(cmp, c.Operator), nil
	}
	return false, fmt.Errorf("migration condition: unknown trait %q", c.Trait)
}

func compareOrdered(cmp int, op ConditionOperator) bool {
	switch op {
	case OpLessThan:
		return cmp < 0
	case OpLessEqual:
		return cmp <= 0
	case OpEqual:
		return cmp == 0
	case OpNotEqual:
		return cmp != 0
	case OpGreaterEqual:
		return cmp >= 0
	case OpGreaterThan:
		return cmp > 0
	}
	return false
}

// Serialize renders the condition back to its trait/operator/target form.
func (c *MigrationCondition) Serialize() (trait ConditionTrait, op ConditionOperator, target string) {
	return c.Trait, c.Operator, c.rawTarget
}

// Equal compares two conditions by their parsed identity rather than their
// raw target text, so "22.04" and "22.04.0" only compare equal if their
// parsed versions do.
func (c *MigrationCondition) Equal(other *MigrationCondition) bool {
	if other == nil || c.Trait != other.Trait || c.Operator != other.Operator {
		return false
	}
	switch c.Trait {
	case TraitKernel:
		return c.kernelTarget.Equal(other.kernelTarget)
	case TraitLSBRelease:
		return c.lsbTarget.Equal(other.lsbTarget)
	case TraitInstanceType:
		if len(c.stringTargets) != len(other.stringTargets) {
			return false
		}
		for i, t := range c.stringTargets {
			if other.stringTargets[i] != t {
				return false
			}
		}
		return true
	case TraitUptime:
		return c.durationTarget == other.durationTarget
	}
	return false
}
