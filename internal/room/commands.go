package room

import "github.com/tcgarena/battle-server/internal/battle"

// Commands are the only way into a room's state. The run goroutine
// consumes them one at a time, so handlers never need locks.
type command interface{ isCommand() }

type joinCmd struct{ player Player }

type selectDeckCmd struct {
	userID string
	deckID string
}

type confirmDeckCmd struct {
	userID string
	deckID string
	cards  []string
}

type coinFlipAckCmd struct{ userID string }

type actionCmd struct {
	userID string
	action battle.Action
}

type timerRequestCmd struct{ conn Conn }

type roomStateRequestCmd struct{ conn Conn }

type battleDataRequestCmd struct{ conn Conn }

type disconnectCmd struct{ socketID string }

func (joinCmd) isCommand()              {}
func (selectDeckCmd) isCommand()        {}
func (confirmDeckCmd) isCommand()       {}
func (coinFlipAckCmd) isCommand()       {}
func (actionCmd) isCommand()            {}
func (timerRequestCmd) isCommand()      {}
func (roomStateRequestCmd) isCommand()  {}
func (battleDataRequestCmd) isCommand() {}
func (disconnectCmd) isCommand()        {}
