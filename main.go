// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
)

func main() {
	fmt.Println("📦 go-overbox - Offline Mutation Outbox")
	fmt.Println("=======================================")
	fmt.Println()
	fmt.Println("go-overbox keeps an app usable without a network: writes made offline are queued")
	fmt.Println("in a durable outbox, collapsed per entity, shown on top of cached server data and")
	fmt.Println("replayed against the server when connectivity returns.")
	fmt.Println()

	fmt.Println("📚 Packages:")
	fmt.Println()
	fmt.Println("   overbox   - outbox, merge view, flush coordinator, query cache, Client facade")
	fmt.Println("   kvstore   - namespaced durable key-value store (SQLite, memory, fallback)")
	fmt.Println("   netstate  - network state monitor with manual and HTTP probe sources")
	fmt.Println("   remote    - remote collection client and error classification")
	fmt.Println("   gamestore - reference REST server (memory or PostgreSQL, JWT auth)")
	fmt.Println()

	fmt.Println("🚀 Examples:")
	fmt.Println()
	fmt.Println("1. 🌐 Game Store Server (examples/gamestore_server/)")
	fmt.Println("   Reference server for games, players and moves")
	fmt.Println("   Run: DATABASE_URL=postgres://... go run ./examples/gamestore_server")
	fmt.Println()

	fmt.Println("2. 📱 Offline Flow Simulator (examples/offline_flow/)")
	fmt.Println("   Replays offline/online scenarios against a server and verifies the result")
	fmt.Println("   Run: go run ./examples/offline_flow -scenario all")
	fmt.Println()

	fmt.Println("3. 🖥️  CLI (cmd/overbox/)")
	fmt.Println("   List, edit and sync records from a terminal, with or without a network")
	fmt.Println("   Run: go run ./cmd/overbox --help")
	fmt.Println()
}
