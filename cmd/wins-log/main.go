// Command wins-log queries the admin port for the historical win log.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/raventid/go-pupa-server/internal/adminclient"
	"github.com/raventid/go-pupa-server/internal/pupa"
)

func main() {
	if err := adminclient.Run(pupa.TagShowWinnersLog, func(fr pupa.Frame) {
		if fr.Tag != pupa.TagWinLogRecord {
			return
		}
		ts := time.Unix(int64(fr.Timestamp), 0).UTC().Format(time.RFC3339)
		fmt.Printf("Signature: %s, timestamp: %s, msg_id: %s\n", fr.Identity, ts, fr.MsgID)
	}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
