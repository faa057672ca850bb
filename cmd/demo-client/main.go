// Command demo-client drives a scripted two-player session against a
// running battle server. It is a development aid for exercising the
// websocket protocol end to end without a real frontend.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
)

var (
	serverURL = flag.String("url", "ws://localhost:4000/ws", "websocket endpoint of the battle server")
	roomID    = flag.String("room", "demo-room", "room to join")
	deckID    = flag.String("deck", "", "deck id to confirm (empty waits for the auto-pick timer)")
)

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type player struct {
	id   string
	name string
	conn *websocket.Conn
	recv chan envelope
}

func dial(id, name string) *player {
	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatalf("Failed to connect %s: %v", id, err)
	}

	p := &player{id: id, name: name, conn: conn, recv: make(chan envelope, 64)}
	go func() {
		defer close(p.recv)
		for {
			var env envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			log.Printf("[%s] <- %s", p.id, env.Event)
			p.recv <- env
		}
	}()
	return p
}

func (p *player) send(event string, data any) {
	log.Printf("[%s] -> %s", p.id, event)
	if err := p.conn.WriteJSON(outbound{Event: event, Data: data}); err != nil {
		log.Fatalf("Failed to send %s for %s: %v", event, p.id, err)
	}
}

// waitFor drains events until the named one arrives.
func (p *player) waitFor(event string, timeout time.Duration) envelope {
	deadline := time.After(timeout)
	for {
		select {
		case env, ok := <-p.recv:
			if !ok {
				log.Fatalf("Connection for %s closed while waiting for %s", p.id, event)
			}
			if env.Event == event {
				return env
			}
		case <-deadline:
			log.Fatalf("Timed out waiting for %s on %s", event, p.id)
		}
	}
}

func (p *player) join() {
	p.send("joinRoom", map[string]any{
		"roomId": *roomID,
		"player": map[string]string{
			"id":   p.id,
			"name": p.name,
		},
	})
}

func (p *player) confirmDeck() {
	payload := map[string]any{
		"roomId":   *roomID,
		"playerId": p.id,
		"deckId":   *deckID,
	}
	p.send("SELECT_DECK", payload)
	p.send("CONFIRM_DECK", payload)
}

func main() {
	flag.Parse()
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	alice := dial("demo-alice", "Alice")
	defer alice.conn.Close()
	bob := dial("demo-bob", "Bob")
	defer bob.conn.Close()

	alice.join()
	bob.join()
	alice.waitFor("ROOM_STATE_UPDATE", 5*time.Second)

	if *deckID != "" {
		alice.confirmDeck()
		bob.confirmDeck()
	} else {
		log.Println("No deck id given, waiting for the selection timer to auto-pick...")
	}

	alice.waitFor("BATTLE_START", 2*time.Minute)
	bob.waitFor("BATTLE_START", 5*time.Second)

	alice.send("COIN_FLIP_COMPLETE", map[string]any{"roomId": *roomID, "playerId": alice.id})
	bob.send("COIN_FLIP_COMPLETE", map[string]any{"roomId": *roomID, "playerId": bob.id})
	phase := alice.waitFor("BATTLE_PHASE_UPDATE", 5*time.Second)
	bob.waitFor("BATTLE_PHASE_UPDATE", 5*time.Second)

	// The first joiner is seated as "player", so the coin flip result
	// tells us which connection owns the opening turn.
	var update struct {
		BattleState struct {
			TurnOwner string `json:"turnOwner"`
		} `json:"battleState"`
	}
	if err := json.Unmarshal(phase.Data, &update); err != nil {
		log.Fatalf("Failed to parse phase update: %v", err)
	}
	first, second := alice, bob
	if update.BattleState.TurnOwner == "opponent" {
		first, second = bob, alice
	}
	log.Printf("Coin flip: %s goes first", first.id)

	// Both sides end a turn each so the exchange is visible in the logs.
	for _, p := range []*player{first, second} {
		p.send("BATTLE_ACTION", map[string]any{
			"roomId":   *roomID,
			"playerId": p.id,
			"action":   map[string]any{"type": "END_TURN", "data": map[string]any{}},
		})
		p.waitFor("BATTLE_STATE_UPDATE", 5*time.Second)
	}

	log.Println("Demo exchange complete, press Ctrl+C to disconnect")
	<-interrupt
}
