package effect

import "sync"

// Log is an append-only record of issued instructions.
// Safe for concurrent use.
type Log struct {
	mu    sync.Mutex
	steps []Instruction
}

// Append records an issued instruction.
func (l *Log) Append(in Instruction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.steps = append(l.steps, in)
}

// Snapshot returns a copy of the log.
func (l *Log) Snapshot() []Instruction {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Instruction, len(l.steps))
	copy(out, l.steps)
	return out
}

// Len returns the number of issued instructions.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.steps)
}

// Last returns the most recently issued instruction, or nil.
func (l *Log) Last() Instruction {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.steps) == 0 {
		return nil
	}
	return l.steps[len(l.steps)-1]
}
