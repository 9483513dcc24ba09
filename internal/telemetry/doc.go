// Package telemetry exposes the console's OpenTelemetry counters.
//
// Counters:
//
//   - desk.events.applied{kind}: inbound realtime events applied
//   - desk.messages.duplicates: messages absorbed by dedup
//   - desk.directory.refreshes{outcome}: ok, error, deferred, shared
//
// Setup wires a periodic stdout exporter, normally pointed at a rotated file.
package telemetry
