package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleState() State {
	now := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	return State{
		Tokens: []Token{
			{TokenNumber: 1, Name: "A", BookedAt: now, Visited: true},
			{TokenNumber: 2, Name: "B", BookedAt: now},
			{TokenNumber: 3, Name: "C", BookedAt: now},
		},
		CurrentNumber:   2,
		NextTokenNumber: 4,
	}
}

func TestState_Partition(t *testing.T) {
	s := sampleState()

	waiting := s.Waiting()
	visited := s.Visited()

	require.Len(t, waiting, 2)
	require.Len(t, visited, 1)
	assert.Equal(t, 2, waiting[0].TokenNumber)
	assert.Equal(t, 3, waiting[1].TokenNumber)
	assert.Equal(t, 1, visited[0].TokenNumber)
}

func TestState_Clone(t *testing.T) {
	s := sampleState()
	c := s.Clone()
	c.Tokens[0].Name = "changed"
	c.Tokens = append(c.Tokens, Token{TokenNumber: 4})

	assert.Equal(t, "A", s.Tokens[0].Name)
	assert.Len(t, s.Tokens, 3)
}

func TestState_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *State)
		wantErr bool
	}{
		{name: "valid", mutate: func(s *State) {}},
		{name: "fresh epoch", mutate: func(s *State) { *s = NewState() }},
		{name: "pointer below one", mutate: func(s *State) { s.CurrentNumber = 0 }, wantErr: true},
		{name: "pointer past next", mutate: func(s *State) { s.CurrentNumber = 5 }, wantErr: true},
		{name: "pointer at next", mutate: func(s *State) { s.CurrentNumber = 4 }},
		{name: "next does not follow last", mutate: func(s *State) { s.NextTokenNumber = 7 }, wantErr: true},
		{name: "empty with counters", mutate: func(s *State) { s.Tokens = nil }, wantErr: true},
		{
			name:    "out of order",
			mutate:  func(s *State) { s.Tokens[1].TokenNumber, s.Tokens[2].TokenNumber = 3, 2 },
			wantErr: true,
		},
		{
			name:    "duplicate numbers",
			mutate:  func(s *State) { s.Tokens[2].TokenNumber = 2; s.NextTokenNumber = 3 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sampleState()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestState_Normalize(t *testing.T) {
	s := sampleState()
	s.Tokens[0].Visited = false
	s.Tokens[2].Visited = true
	s.Normalize()

	assert.True(t, s.Tokens[0].Visited)
	assert.False(t, s.Tokens[1].Visited)
	assert.False(t, s.Tokens[2].Visited)

	empty := State{CurrentNumber: 1, NextTokenNumber: 1}
	empty.Normalize()
	assert.NotNil(t, empty.Tokens)
}

func TestState_Summarize(t *testing.T) {
	t.Run("MidEpoch", func(t *testing.T) {
		sum := sampleState().Summarize(5)
		assert.Equal(t, Summary{
			NowServing:           1,
			WaitingCount:         2,
			VisitedCount:         1,
			EstimatedWaitMinutes: 10,
			NextTokenNumber:      4,
		}, sum)
	})

	t.Run("Empty", func(t *testing.T) {
		sum := NewState().Summarize(5)
		assert.Equal(t, 0, sum.NowServing)
		assert.Equal(t, 0, sum.WaitingCount)
		assert.Equal(t, 0, sum.EstimatedWaitMinutes)
		assert.Equal(t, 1, sum.NextTokenNumber)
	})

	t.Run("NothingCalledYet", func(t *testing.T) {
		s := sampleState()
		s.CurrentNumber = 1
		assert.Equal(t, 0, s.Summarize(5).NowServing)
	})
}
