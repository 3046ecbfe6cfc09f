package models

import (
	"fmt"
)

// State is the whole queue: the persisted document and the snapshot handed to readers.
type State struct {
	Tokens          []Token `json:"tokens"`
	CurrentNumber   int     `json:"currentNumber"`
	NextTokenNumber int     `json:"nextTokenNumber"`
}

// NewState returns the state of a fresh epoch.
func NewState() State {
	return State{
		Tokens:          []Token{},
		CurrentNumber:   1,
		NextTokenNumber: 1,
	}
}

// Clone returns a deep copy so callers cannot reach the original token slice.
func (s State) Clone() State {
	tokens := make([]Token, len(s.Tokens))
	copy(tokens, s.Tokens)
	s.Tokens = tokens
	return s
}

// Waiting returns tokens at or after the serving pointer.
func (s State) Waiting() []Token {
	out := make([]Token, 0, len(s.Tokens))
	for i := range s.Tokens {
		if s.Tokens[i].IsWaiting(s.CurrentNumber) {
			out = append(out, s.Tokens[i])
		}
	}
	return out
}

// Visited returns tokens the serving pointer has already passed.
func (s State) Visited() []Token {
	out := make([]Token, 0, len(s.Tokens))
	for i := range s.Tokens {
		if !s.Tokens[i].IsWaiting(s.CurrentNumber) {
			out = append(out, s.Tokens[i])
		}
	}
	return out
}

// Validate checks the counters and token ordering of a state loaded from storage.
func (s *State) Validate() error {
	if s.CurrentNumber < 1 {
		return fmt.Errorf("currentNumber must be >= 1, got %d", s.CurrentNumber)
	}
	if s.NextTokenNumber < 1 {
		return fmt.Errorf("nextTokenNumber must be >= 1, got %d", s.NextTokenNumber)
	}
	if s.CurrentNumber > s.NextTokenNumber {
		return fmt.Errorf("currentNumber %d exceeds nextTokenNumber %d", s.CurrentNumber, s.NextTokenNumber)
	}

	prev := 0
	for i := range s.Tokens {
		n := s.Tokens[i].TokenNumber
		if n <= prev {
			return fmt.Errorf("token numbers out of order at index %d (%d after %d)", i, n, prev)
		}
		prev = n
	}

	expectedNext := prev + 1
	if len(s.Tokens) == 0 {
		expectedNext = 1
	}
	if s.NextTokenNumber != expectedNext {
		return fmt.Errorf("nextTokenNumber %d does not follow last token %d", s.NextTokenNumber, prev)
	}
	return nil
}

// Normalize recomputes visited flags from the serving pointer and replaces a nil token slice.
func (s *State) Normalize() {
	if s.Tokens == nil {
		s.Tokens = []Token{}
	}
	for i := range s.Tokens {
		s.Tokens[i].Visited = !s.Tokens[i].IsWaiting(s.CurrentNumber)
	}
}

// Summary is the condensed queue view shown on status boards.
type Summary struct {
	NowServing           int `json:"nowServing"`
	WaitingCount         int `json:"waitingCount"`
	VisitedCount         int `json:"visitedCount"`
	EstimatedWaitMinutes int `json:"estimatedWaitMinutes"`
	NextTokenNumber      int `json:"nextTokenNumber"`
}

// Summarize derives the status board view. minutesPerPatient scales the wait estimate.
func (s State) Summarize(minutesPerPatient int) Summary {
	waiting := 0
	for i := range s.Tokens {
		if s.Tokens[i].IsWaiting(s.CurrentNumber) {
			waiting++
		}
	}

	nowServing := 0
	if len(s.Tokens) > 0 && s.CurrentNumber > 1 {
		nowServing = s.CurrentNumber - 1
	}

	return Summary{
		NowServing:           nowServing,
		WaitingCount:         waiting,
		VisitedCount:         len(s.Tokens) - waiting,
		EstimatedWaitMinutes: waiting * minutesPerPatient,
		NextTokenNumber:      s.NextTokenNumber,
	}
}
