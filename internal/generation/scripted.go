package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Scripted replays queued replies in order. When a queue is empty it falls
// back to a per-schema default, which makes it usable as an offline provider
// for demos and local development.
type Scripted struct {
	mu         sync.Mutex
	texts      []reply
	structured map[string][]reply
	defaults   map[string]json.RawMessage
	fallback   string
	prompts    []string
}

type reply struct {
	text string
	err  error
}

// NewScripted returns an empty script. fallbackText answers Text calls once
// the text queue is drained; empty means drained calls fail.
func NewScripted(fallbackText string) *Scripted {
	return &Scripted{
		structured: make(map[string][]reply),
		defaults:   make(map[string]json.RawMessage),
		fallback:   fallbackText,
	}
}

// QueueText appends a Text reply.
func (s *Scripted) QueueText(text string) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, reply{text: text})
	return s
}

// QueueTextError makes the next Text call fail with err.
func (s *Scripted) QueueTextError(err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, reply{err: err})
	return s
}

// QueueJSON appends a Structured reply for schema name.
func (s *Scripted) QueueJSON(name, raw string) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.structured[name] = append(s.structured[name], reply{text: raw})
	return s
}

// QueueJSONError makes the next Structured call for name fail with err.
func (s *Scripted) QueueJSONError(name string, err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.structured[name] = append(s.structured[name], reply{err: err})
	return s
}

// Default sets the reply used for name once its queue is drained.
func (s *Scripted) Default(name string, raw json.RawMessage) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaults[name] = raw
	return s
}

// Prompts returns every prompt received, in call order.
func (s *Scripted) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

// Text implements Generator.
func (s *Scripted) Text(_ context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	if len(s.texts) == 0 {
		if s.fallback == "" {
			return "", errors.New("generation: scripted: no text reply queued")
		}
		return s.fallback, nil
	}
	r := s.texts[0]
	s.texts = s.texts[1:]
	return r.text, r.err
}

// Structured implements Generator.
func (s *Scripted) Structured(_ context.Context, name, prompt string, out any) error {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	var r reply
	if q := s.structured[name]; len(q) > 0 {
		r = q[0]
		s.structured[name] = q[1:]
	} else if d, ok := s.defaults[name]; ok {
		r = reply{text: string(d)}
	} else {
		s.mu.Unlock()
		return fmt.Errorf("generation: scripted: no %s reply queued", name)
	}
	s.mu.Unlock()

	if r.err != nil {
		return r.err
	}
	if err := decodeJSON(r.text, out); err != nil {
		return fmt.Errorf("generation: scripted: %w", err)
	}
	return nil
}
