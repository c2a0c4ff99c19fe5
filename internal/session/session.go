// Package session stores typed round and flow documents in the two-tier
// state store. Every document is validated on the way in and on the way out.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ashita-ai/mensetsu/internal/interview"
	"github.com/ashita-ai/mensetsu/internal/statestore"
)

// Default TTLs for persisted documents.
const (
	DefaultRoundTTL = 2 * time.Hour
	DefaultFlowTTL  = 24 * time.Hour
)

// FlowKey is the store key of a candidate's round flow.
func FlowKey(candidateID string) string {
	return "user:" + candidateID + ":round_flow"
}

// Store reads and writes RoundState and FlowState documents.
type Store struct {
	kv       *statestore.Store
	policies interview.Policies
	roundTTL time.Duration
	flowTTL  time.Duration
}

// New creates a Store. Zero TTLs select the defaults.
func New(kv *statestore.Store, policies interview.Policies, roundTTL, flowTTL time.Duration) *Store {
	if roundTTL <= 0 {
		roundTTL = DefaultRoundTTL
	}
	if flowTTL <= 0 {
		flowTTL = DefaultFlowTTL
	}
	return &Store{kv: kv, policies: policies, roundTTL: roundTTL, flowTTL: flowTTL}
}

// LoadRound returns the persisted state of a candidate's round. found is
// false when no state exists.
func (s *Store) LoadRound(ctx context.Context, round interview.Round, candidateID string) (*interview.RoundState, bool, error) {
	raw, found, err := s.kv.Load(ctx, round.StateKey(candidateID))
	if err != nil || !found {
		return nil, false, err
	}
	st, err := DecodeRound(raw, s.policies)
	if err != nil {
		return nil, false, fmt.Errorf("session: load %s round for %s: %w", round, candidateID, err)
	}
	if st.Round != round || st.CandidateID != candidateID {
		return nil, false, fmt.Errorf("session: load %s round for %s: stored document belongs to %s/%s",
			round, candidateID, st.Round, st.CandidateID)
	}
	return st, true, nil
}

// SaveRound validates and persists st under its round key.
func (s *Store) SaveRound(ctx context.Context, st *interview.RoundState) error {
	raw, err := EncodeRound(st, s.policies)
	if err != nil {
		return fmt.Errorf("session: save %s round for %s: %w", st.Round, st.CandidateID, err)
	}
	return s.kv.Save(ctx, st.Round.StateKey(st.CandidateID), raw, s.roundTTL)
}

// DeleteRound removes a candidate's round state.
func (s *Store) DeleteRound(ctx context.Context, round interview.Round, candidateID string) error {
	return s.kv.Delete(ctx, round.StateKey(candidateID))
}

// LoadFlow returns a candidate's flow, or a fresh all-not-started flow when
// none is stored.
func (s *Store) LoadFlow(ctx context.Context, candidateID string) (interview.FlowState, error) {
	raw, found, err := s.kv.Load(ctx, FlowKey(candidateID))
	if err != nil {
		return nil, err
	}
	if !found {
		return interview.NewFlowState(), nil
	}
	f, err := interview.DecodeFlowState(raw)
	if err != nil {
		return nil, fmt.Errorf("session: load flow for %s: %w", candidateID, err)
	}
	return f, nil
}

// SaveFlow persists a candidate's flow.
func (s *Store) SaveFlow(ctx context.Context, candidateID string, f interview.FlowState) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("session: encode flow: %w", err)
	}
	return s.kv.Save(ctx, FlowKey(candidateID), raw, s.flowTTL)
}

// DeleteFlow removes a candidate's flow document.
func (s *Store) DeleteFlow(ctx context.Context, candidateID string) error {
	return s.kv.Delete(ctx, FlowKey(candidateID))
}

// EncodeRound validates st against its round policy and marshals it.
func EncodeRound(st *interview.RoundState, policies interview.Policies) ([]byte, error) {
	p, err := policies.Get(st.Round)
	if err != nil {
		return nil, err
	}
	if err := st.Validate(p); err != nil {
		return nil, err
	}
	return json.Marshal(st)
}

// DecodeRound strictly unmarshals a stored round document and validates it.
// Unknown fields and invariant violations are errors.
func DecodeRound(raw []byte, policies interview.Policies) (*interview.RoundState, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var st interview.RoundState
	if err := dec.Decode(&st); err != nil {
		return nil, fmt.Errorf("decode round state: %w", err)
	}
	p, err := policies.Get(st.Round)
	if err != nil {
		return nil, err
	}
	if err := st.Validate(p); err != nil {
		return nil, err
	}
	return &st, nil
}
