// Package realtime exposes conversation change notifications over
// websockets.
//
// A session is subscribed to its user's inbox for as long as it is open and
// to at most one conversation room, chosen with join/leave frames. Frames
// only name the conversation that changed; clients re-fetch through the
// HTTP API. RedisRelay extends fan-out across gateway instances.
package realtime
