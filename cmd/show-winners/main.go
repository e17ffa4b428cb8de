// Command show-winners queries the admin port for the sorted leaderboard.
package main

import (
	"fmt"
	"os"

	"github.com/raventid/go-pupa-server/internal/adminclient"
	"github.com/raventid/go-pupa-server/internal/pupa"
)

func main() {
	if err := adminclient.Run(pupa.TagShowWinners, func(fr pupa.Frame) {
		if fr.Tag != pupa.TagWinnerRecord {
			return
		}
		fmt.Printf("Signature: %s, online: %t, wins: %d, messages_received: %d, messages_sent: %d\n",
			fr.Identity, fr.Online, fr.Wins, fr.MessagesReceived, fr.MessagesSent)
	}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
