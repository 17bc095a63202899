// Package bugout holds the contracts shared by every service that speaks
// the bugout command/event protocol: the transport and subscriber
// interfaces and the error taxonomy used to decide whether a failed
// message is retried, dropped, replayed, or fatal.
package bugout
