package tabletop

import (
	"math/rand/v2"
	"time"
)

// DieSizes lists the dice the sheet offers.
var DieSizes = []int{4, 6, 8, 10, 12, 20, 100}

// ValidDie reports whether size is one of the supported dice.
func ValidDie(size int) bool {
	for _, d := range DieSizes {
		if d == size {
			return true
		}
	}
	return false
}

// Roll draws a uniform result in [1, size].
func Roll(size int) int {
	return 1 + rand.IntN(size)
}

// DiceRoll is the ephemeral record broadcast on dice:roll. It is never
// stored in table state, only relayed and kept in bounded local buffers.
type DiceRoll struct {
	Name   string `json:"name"`
	Die    int    `json:"die"`
	Result int    `json:"result"`
	TS     int64  `json:"ts"`
}

// Buffer sizes for the local roll history and the toast feed.
const (
	RollLogSize   = 8
	RollToastSize = 3
)

// RollLog is a newest-first bounded buffer of dice rolls. The roller's own
// result reaches the buffer twice (once locally, once if the relay echoes),
// so Add de-duplicates by timestamp; the buffer is a transient UI affordance,
// not an audit log.
type RollLog struct {
	cap   int
	rolls []DiceRoll
}

// NewRollLog returns a buffer keeping the most recent n rolls.
func NewRollLog(n int) *RollLog {
	return &RollLog{cap: n}
}

// Add prepends r, dropping the oldest entry past capacity. Returns false if
// a roll with the same timestamp is already buffered.
func (l *RollLog) Add(r DiceRoll) bool {
	for _, have := range l.rolls {
		if have.TS == r.TS {
			return false
		}
	}
	l.rolls = append([]DiceRoll{r}, l.rolls...)
	if len(l.rolls) > l.cap {
		l.rolls = l.rolls[:l.cap]
	}
	return true
}

// Rolls returns the buffered rolls, newest first.
func (l *RollLog) Rolls() []DiceRoll {
	return append([]DiceRoll(nil), l.rolls...)
}

// Roller animates a dice roll: intermediate draws at a fixed cadence for a
// fixed duration, then one final draw that becomes the result. The roll
// cannot be cancelled mid-animation.
type Roller struct {
	Cadence  time.Duration
	Duration time.Duration
}

// DefaultRoller matches the sheet's animation timing.
var DefaultRoller = Roller{Cadence: 80 * time.Millisecond, Duration: 800 * time.Millisecond}

// Roll blocks for the animation duration, invoking tick with each
// intermediate value, and returns the settled result. All values, including
// intermediates, are uniform in [1, die].
func (r Roller) Roll(die int, tick func(int)) int {
	deadline := time.Now().Add(r.Duration)
	for time.Now().Before(deadline) {
		if tick != nil {
			tick(Roll(die))
		}
		time.Sleep(r.Cadence)
	}
	return Roll(die)
}
