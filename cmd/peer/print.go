package main

import (
	"encoding/hex"
	"fmt"

	"github.com/Tyrowin/wsmux/internal/message"
	"github.com/Tyrowin/wsmux/internal/peer"
)

func format(msg message.Message) string {
	if msg.IsBinary() {
		return fmt.Sprintf("[binary %d bytes] %s", msg.Len(), hex.EncodeToString(msg.Payload()))
	}
	return msg.Text()
}

func printAll(p *peer.Peer) {
	for _, msg := range p.Drain() {
		fmt.Println(format(msg))
	}
}
