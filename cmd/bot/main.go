package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"

	"tradehall.ai/internal/protocol"
)

// A scripted trading client: connects, optionally requests a trade with
// -peer, accepts any inbound request, offers -offer_money once a session
// starts and confirms. Useful for exercising a live server from two
// terminals.
func main() {
	var (
		url        = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name       = flag.String("name", "bot", "participant name")
		peer       = flag.String("peer", "", "participant to send a trade request to")
		offerMoney = flag.Float64("offer_money", 50, "money to offer once a session starts")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		Name:            *name,
		MaxQueue:        16,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	cmdSeq := 0
	send := func(cmd protocol.CmdMsg) {
		cmdSeq++
		cmd.Type = protocol.TypeCmd
		cmd.ProtocolVersion = protocol.Version
		cmd.ID = fmt.Sprintf("c%04d", cmdSeq)
		if err := conn.WriteJSON(cmd); err != nil {
			logger.Printf("send %s: %v", cmd.Kind, err)
		}
	}

	for {
		select {
		case <-stop:
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			logger.Printf("WELCOME participant=%s world=%s tax=%.2f", w.ParticipantID, w.WorldID, w.HallParams.MoneyTaxRate)
			if *peer != "" {
				send(protocol.CmdMsg{Kind: protocol.CmdTradeRequest, To: *peer})
			}

		case protocol.TypeEvents:
			var evt protocol.EventsMsg
			if err := json.Unmarshal(msg, &evt); err != nil {
				continue
			}
			for _, ev := range evt.Events {
				switch ev["type"] {
				case protocol.EvRequestReceived:
					logger.Printf("request from %v, accepting", ev["from"])
					send(protocol.CmdMsg{Kind: protocol.CmdTradeAccept})
				case protocol.EvSessionStarted:
					logger.Printf("session %v with %v", ev["session_id"], ev["with"])
					if *offerMoney > 0 {
						send(protocol.CmdMsg{Kind: protocol.CmdSetMoney, Amount: *offerMoney})
					}
					send(protocol.CmdMsg{Kind: protocol.CmdConfirm})
				case protocol.EvConfirmNeeded:
					logger.Printf("large trade, acknowledging")
					send(protocol.CmdMsg{Kind: protocol.CmdConfirm})
				case protocol.EvOfferUpdated:
					// Peer edits reset our confirmation; confirm again.
					if ev["by"] != *name {
						send(protocol.CmdMsg{Kind: protocol.CmdConfirm})
					}
				case protocol.EvSettled:
					logger.Printf("settled session %v", ev["session_id"])
				case protocol.EvCancelled:
					logger.Printf("cancelled session %v: %v", ev["session_id"], ev["reason"])
				case protocol.EvCmdResult:
					if ev["ok"] != true {
						logger.Printf("cmd %v rejected: %v", ev["id"], ev["code"])
					}
				}
			}
		}
	}
}
