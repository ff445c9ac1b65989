// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package gamestore is a small authoritative record store exposing the REST
// contract spoken by remote.HTTPClient:
//
//	GET    /health
//	POST   /auth/token
//	GET    /collections/{collection}
//	POST   /collections/{collection}
//	PATCH  /collections/{collection}/{id}
//	DELETE /collections/{collection}/{id}
//
// Records are JSON objects scoped to the authenticated user. Storage is a
// Repository: MemoryRepository for tests and demos, PostgresRepository for
// real deployments.
package gamestore
