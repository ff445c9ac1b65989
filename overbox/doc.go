// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package overbox lets a client read and edit server-backed collections while
// offline and converge with the authoritative store once it is reachable.
//
// The pieces, leaves first:
//   - Outbox: at most one pending operation per entity, collapsed on append
//     and persisted through a kvstore.Store
//   - Merge: a pure overlay of outbox entries onto the last known server list
//   - QueryCache: the last fetched snapshot of each collection, restored from
//     durable storage before Open returns and mirrored back in the background
//   - Flusher: replays the outbox against the remote store in enqueue order
//   - Client: the write entry point (EnqueueOrSend), merged reads, manual
//     sync and "clear offline data"
//
// Usage:
//
//	store := kvstore.OpenDurable("offline.db", kvstore.DefaultNamespace, logger)
//	network := netstate.NewMonitor(probe)
//	client, err := overbox.Open(ctx, store, remote.NewHTTPClient(url, token), network, nil)
//	if err != nil { ... }
//	defer client.Close()
//
//	games, _ := client.MergedList(ctx, "games")
//	res, err := client.EnqueueOrSend(ctx, overbox.Op{Collection: "games", Kind: overbox.KindCreate, Payload: rec})
package overbox
