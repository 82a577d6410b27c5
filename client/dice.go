package client

import (
	"fmt"
	"time"

	"dragonrock/tabletop"
)

// RollDice runs the animated roll for the given die: tick receives each
// intermediate value at the animation cadence, the settled result is
// recorded locally and broadcast to the table. The roll blocks for the
// animation duration and cannot be cancelled mid-roll.
//
// When the logged-in identity owns a card, that card's name labels the roll;
// otherwise the provided name is used, falling back to "Unknown".
func (e *Engine) RollDice(name string, die int, tick func(int)) (tabletop.DiceRoll, error) {
	if !tabletop.ValidDie(die) {
		return tabletop.DiceRoll{}, fmt.Errorf("unsupported die size: %d", die)
	}

	result := tabletop.DefaultRoller.Roll(die, tick)

	roll := tabletop.DiceRoll{
		Name:   e.rollerName(name),
		Die:    die,
		Result: result,
		TS:     time.Now().UnixMilli(),
	}

	// Local feed first: dice events are not origin-filtered, so a relay
	// echo of this same roll may arrive later and is dropped by timestamp.
	e.recordRoll(roll)

	e.mu.Lock()
	tableID := e.tableID
	e.mu.Unlock()
	if err := e.emit(tabletop.EventDiceRoll, tableID, roll); err != nil {
		return roll, err
	}
	return roll, nil
}

func (e *Engine) rollerName(name string) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.user != nil {
		if i := tabletop.OwnerIndex(e.state.Chars, e.user.Username); i >= 0 && e.state.Chars[i].Name != "" {
			return e.state.Chars[i].Name
		}
	}
	if name != "" {
		return name
	}
	return "Unknown"
}

// recordRoll feeds both bounded buffers and notifies the toast feed.
func (e *Engine) recordRoll(roll tabletop.DiceRoll) {
	e.mu.Lock()
	e.rollLog.Add(roll)
	fresh := e.toasts.Add(roll)
	e.mu.Unlock()

	if fresh && e.cb.DiceToast != nil {
		e.cb.DiceToast(roll)
	}
}

// RollHistory returns the recent-roll log, newest first.
func (e *Engine) RollHistory() []tabletop.DiceRoll {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rollLog.Rolls()
}

// Toasts returns the short toast feed, newest first.
func (e *Engine) Toasts() []tabletop.DiceRoll {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.toasts.Rolls()
}
