// Package lifecycle owns process teardown.
//
// A Coordinator tracks the running proxy listeners and the collaborators
// that hold external state: dev server processes, hosts-file entries,
// generated certificates, the DNS responder and OS resolver registrations.
// TriggerCleanup runs one teardown sequence no matter how many signals,
// faults and API calls race to start it; late callers receive the same
// Completion.
//
// Teardown steps run concurrently. A failing step never stops its siblings;
// failures are collected into a *CleanupError. Hosts cleanup only touches
// custom domains, never localhost names.
//
// Unless CleanupOptions.Embedded is set, the process exits once teardown
// completes.
package lifecycle
