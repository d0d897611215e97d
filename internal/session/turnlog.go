package session

import (
	"time"

	"career-compass/internal/domain"
)

// TurnLog is the ordered in-memory transcript of one session. It is not safe
// for concurrent use; controllers guard it with their own lock.
type TurnLog struct {
	turns []domain.Turn
	next  int64
	now   func() time.Time
}

func NewTurnLog(now func() time.Time) *TurnLog {
	if now == nil {
		now = time.Now
	}
	return &TurnLog{next: 1, now: now}
}

// Append assigns the next sequence number and adds turn to the end.
func (l *TurnLog) Append(turn domain.Turn) domain.Turn {
	turn.Sequence = l.next
	l.next++
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = l.now().UTC()
	}
	l.turns = append(l.turns, turn.Clone())
	return turn
}

// Snapshot returns a copy that later appends or clears cannot affect.
func (l *TurnLog) Snapshot() []domain.Turn {
	out := make([]domain.Turn, len(l.turns))
	for i, t := range l.turns {
		out[i] = t.Clone()
	}
	return out
}

// Clear empties the log. The sequence counter keeps running so numbers are
// never handed out twice.
func (l *TurnLog) Clear() {
	l.turns = nil
}

// Restore replaces the contents with a durable copy. Turns keep their stored
// order; a turn without a sequence gets the next free one and a turn whose
// sequence does not increase is dropped as a duplicate.
func (l *TurnLog) Restore(turns []domain.Turn) {
	l.turns = make([]domain.Turn, 0, len(turns))
	var last int64
	for _, t := range turns {
		if t.Sequence == 0 {
			t.Sequence = last + 1
		}
		if t.Sequence <= last {
			continue
		}
		last = t.Sequence
		l.turns = append(l.turns, t.Clone())
	}
	if last+1 > l.next {
		l.next = last + 1
	}
}

func (l *TurnLog) Len() int {
	return len(l.turns)
}
