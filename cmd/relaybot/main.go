// Command relaybot runs the Telegram relay bot.
//
// Usage:
//
//	relaybot [run] [--env-file .env] [--health-addr :8081] [--tts=false]
//	relaybot say --text "Привет" --out hello.mp3
//	relaybot version
package main

import (
	"fmt"
	"os"

	"github.com/zhouzirui/z-tavern/relaybot/cmd/relaybot/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
