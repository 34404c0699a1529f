// Package kestrel is the module root for the Kestrel agent runtime: a
// two-binary system pairing an Agent Host (the ReAct loop, LLM adapter,
// and WebSocket/SSE wire protocol clients talk to) with a Tools Provider
// (the catalog, access control, and execution surface the Agent Host calls
// out to).
//
// The two binaries live under cmd/agent-host and cmd/tools-provider;
// service-specific logic lives under internal/agenthost and
// internal/toolsprovider; packages shared by both live under pkg/.
package kestrel
