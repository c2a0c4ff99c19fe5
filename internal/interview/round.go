// Package interview defines the round, ledger, and flow types shared by every
// part of the interview state machine, together with the per-round policies
// that parameterize it.
package interview

import "fmt"

// Round identifies one stage of the interview.
type Round string

const (
	RoundCoding    Round = "coding"
	RoundTechnical Round = "technical"
	RoundManager   Round = "manager"
	RoundHR        Round = "hr"
)

// Order is the fixed sequence candidates must complete rounds in.
var Order = []Round{RoundCoding, RoundTechnical, RoundManager, RoundHR}

// ParseRound validates a round name taken from a request path or tool argument.
func ParseRound(s string) (Round, error) {
	r := Round(s)
	if r.Index() < 0 {
		return "", Errorf(KindInvalidInput, "unknown round %q", s)
	}
	return r, nil
}

// Index returns the position of r in Order, or -1 for unknown rounds.
func (r Round) Index() int {
	for i, o := range Order {
		if o == r {
			return i
		}
	}
	return -1
}

// IsLast reports whether r is the final round of the sequence.
func (r Round) IsLast() bool {
	return r.Index() == len(Order)-1
}

// StateKey is the durable-store key holding this round's state for a candidate.
func (r Round) StateKey(candidateID string) string {
	return fmt.Sprintf("%s_interview_state:%s", r, candidateID)
}

// Status is a round's position in a candidate's flow.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Action is the adaptive next-step decision made after each answer.
type Action string

const (
	ActionIncrease Action = "increase"
	ActionDecrease Action = "decrease"
	ActionKeep     Action = "keep"
	ActionEnd      Action = "end"
)

// ParseAction accepts both the short action names and the long-form names
// generation models tend to emit ("increase_difficulty", "end_interview").
func ParseAction(s string) (Action, error) {
	switch s {
	case "increase", "increase_difficulty":
		return ActionIncrease, nil
	case "decrease", "decrease_difficulty":
		return ActionDecrease, nil
	case "keep", "keep_difficulty":
		return ActionKeep, nil
	case "end", "end_interview":
		return ActionEnd, nil
	}
	return "", fmt.Errorf("interview: unknown difficulty action %q", s)
}
