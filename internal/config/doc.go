// Package config handles configuration loading for the inbox gateway.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from INBOX_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/realty-inbox/gateway.yaml
//  3. ~/.config/realty-inbox/gateway.yaml
//
// Files ending in .toml are parsed as TOML, everything else as YAML.
// A .env file next to the config file is loaded before parsing.
//
// # Environment Variables
//
// Values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${INBOX_JWT_SECRET}"
//
// After parsing, INBOX_* variables override selected fields
// (INBOX_HTTP_ADDR, INBOX_GRPC_ADDR, INBOX_DATABASE_PATH, INBOX_JWT_SECRET,
// INBOX_REDIS_URL, INBOX_LOG_LEVEL, INBOX_S3_BUCKET, INBOX_QUEUE_REDIS_URL).
//
// # Example
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  grpc_addr: "0.0.0.0:50051"
//
//	database:
//	  driver: sqlite
//	  path: "/var/lib/realty-inbox/inbox.db"
//
//	realtime:
//	  ping_interval: "30s"
//	  redis_url: "redis://localhost:6379/0"
//
//	attachments:
//	  backend: s3
//	  base_url: "https://cdn.example.com"
//	  s3:
//	    bucket: realty-attachments
//	    region: eu-west-1
//
//	push:
//	  enabled: true
//	  firebase_credentials: "/etc/realty-inbox/firebase.json"
//	  queue_redis_url: "redis://localhost:6379/1"
//
//	messaging:
//	  history_limit: 200
//	  dedupe_ttl: "10m"
package config
