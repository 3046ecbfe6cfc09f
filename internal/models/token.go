package models

import "time"

// Token is one patient booking in the queue.
type Token struct {
	TokenNumber int       `json:"tokenNumber"`
	Name        string    `json:"name"`
	Phone       string    `json:"phone"`
	Age         int       `json:"age"`
	Department  string    `json:"department"`
	BookedAt    time.Time `json:"bookedAt"`
	Visited     bool      `json:"visited"`
}

// IsWaiting reports whether the token has not been reached by the serving pointer yet.
func (t *Token) IsWaiting(currentNumber int) bool {
	return t.TokenNumber >= currentNumber
}

// BookingInput carries the raw booking fields as received from a caller.
// Age is left untyped so the queue can reject text, fractions and missing values itself.
type BookingInput struct {
	Name       string      `json:"name"`
	Phone      string      `json:"phone"`
	Age        interface{} `json:"age"`
	Department string      `json:"department"`
	BookedAt   string      `json:"bookedAt,omitempty"` // RFC3339, optional
}
