// Package validate holds the stateless input guards shared by the bounty
// engine's entry points. Every rejection carries a distinct code so callers
// can react to "stake too low" differently from "deadline too soon".
package validate

import (
	"fmt"
	"time"
)

// Code identifies one validation failure class.
type Code string

const (
	CodeAmountNotPositive  Code = "amount_not_positive"
	CodeStakeBelowMinimum  Code = "stake_below_minimum"
	CodeStakeBelowRequired Code = "stake_below_required"
	CodeDeadlinePassed     Code = "deadline_passed"
	CodeDeadlineTooSoon    Code = "deadline_too_soon"
	CodeConfidenceRange    Code = "confidence_out_of_range"
	CodeEmptyIdentifier    Code = "empty_identifier"
	CodeEmptyDescription   Code = "empty_description"
	CodeInvalidVerdict     Code = "invalid_verdict"
	CodeLengthMismatch     Code = "length_mismatch"
)

// Error is a validation failure. It satisfies errors.As targeting so the
// HTTP layer can map it to a 400 with the code attached.
type Error struct {
	Code   Code
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func errf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// MinDeadlineLead is the shortest allowed gap between now and a new
// bounty's deadline.
const MinDeadlineLead = time.Hour

// PositiveAmount rejects zero and negative value amounts.
func PositiveAmount(name string, amount int64) error {
	if amount <= 0 {
		return errf(CodeAmountNotPositive, "%s must be positive, got %d", name, amount)
	}
	return nil
}

// StakeAtLeastMinimum checks a stake against the bounty's advertised floor.
func StakeAtLeastMinimum(stake, minStake int64) error {
	if stake < minStake {
		return errf(CodeStakeBelowMinimum, "stake %d below bounty minimum %d", stake, minStake)
	}
	return nil
}

// StakeAtLeastRequired checks a stake against the tier-adjusted requirement.
func StakeAtLeastRequired(stake, required int64) error {
	if stake < required {
		return errf(CodeStakeBelowRequired, "stake %d below required %d", stake, required)
	}
	return nil
}

// Deadline rejects deadlines already past or closer than MinDeadlineLead.
func Deadline(deadline, now time.Time) error {
	if !deadline.After(now) {
		return errf(CodeDeadlinePassed, "deadline %s is not in the future", deadline.Format(time.RFC3339))
	}
	if deadline.Sub(now) < MinDeadlineLead {
		return errf(CodeDeadlineTooSoon, "deadline must be at least %s away", MinDeadlineLead)
	}
	return nil
}

// Confidence enforces the inclusive [1,100] range.
func Confidence(confidence int) error {
	if confidence < 1 || confidence > 100 {
		return errf(CodeConfidenceRange, "confidence %d outside [1,100]", confidence)
	}
	return nil
}

// Identifier rejects empty identifiers (addresses, artifact refs, IDs).
func Identifier(name, value string) error {
	if value == "" {
		return errf(CodeEmptyIdentifier, "%s required", name)
	}
	return nil
}

// Description rejects empty free-text descriptions.
func Description(value string) error {
	if value == "" {
		return errf(CodeEmptyDescription, "description required")
	}
	return nil
}

// SameLength guards paired slices built by callers (payout batches).
func SameLength(aName string, aLen int, bName string, bLen int) error {
	if aLen != bLen {
		return errf(CodeLengthMismatch, "%s has %d entries, %s has %d", aName, aLen, bName, bLen)
	}
	return nil
}
