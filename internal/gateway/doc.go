// Package gateway assembles the inbox server.
//
// New builds every backend from configuration: the SQLite store, the
// attachment store (local directory or S3), push delivery (Firebase, either
// inline or behind an asynq queue), the in-memory broadcaster and, when a
// redis URL is set, the relay that extends it across instances. Run serves:
//
//   - the JSON API under /api, authenticated by JWT bearer tokens or, with
//     no jwt_secret, by X-User-ID headers from a trusted proxy
//   - the websocket endpoint /api/ws for change notifications
//   - locally stored attachment files
//   - /health and /health/ready, plus the gRPC health service
//
// Listeners are plain TCP or, with tailscale enabled, a tsnet node.
package gateway
