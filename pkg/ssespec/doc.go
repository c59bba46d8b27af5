// Package ssespec is a Server-Sent Events delivery engine for a multi-user
// web application. It accepts typed, prioritized, optionally expiring events
// targeted at a specific user, persists them durably, fans them out over
// long-lived HTTP streams to every connected session of that user, and
// recovers unread events from the relational store when the user reconnects.
//
// The engine is a producer/consumer system: many writers call CreateEvent,
// a single distributor worker drains the bounded central queue into bounded
// per-connection mailboxes (lossy, drop-oldest on overflow), and a periodic
// cleanup worker purges read-or-expired rows. Delivery is at-most-once per
// live connection with DB-backed recovery on reconnect. Fan-out is
// single-process; cluster-wide broadcast is out of scope.
package ssespec
