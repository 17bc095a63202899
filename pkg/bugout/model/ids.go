// Package model defines the correlation identifiers and the small domain
// values carried inside bugout commands and events.
//
// Identifiers are distinct string types so a low-trust ClientId cannot be
// passed where a gateway-issued SessionId is required.
package model

// ClientId is the long-lived pseudonymous identity of one client instance.
type ClientId string

// SessionId is issued by the gateway and bound to one live connection.
// It is only trusted when looked up in a server-side session store.
type SessionId string

// GameId identifies one game. Only the lobby backend mints them.
type GameId string

// ReqId pairs a request with its eventual reply and keys idempotent
// reprocessing.
type ReqId string

// EventId uniquely identifies one outcome event.
type EventId string

func (id ClientId) String() string  { return string(id) }
func (id SessionId) String() string { return string(id) }
func (id GameId) String() string    { return string(id) }
func (id ReqId) String() string     { return string(id) }
func (id EventId) String() string   { return string(id) }
