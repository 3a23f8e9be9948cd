// Package tools defines the tool contract used by the realtime middle tier:
// the ITool interface, the routed Result a tool returns, and the Registry the
// orchestrator consults to advertise, validate and dispatch function calls.
package tools
