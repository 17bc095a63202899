package config

import "github.com/hashicorp/hcl/v2"

var constSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "const"},
	},
}

type fileDefinition struct {
	Transport   *TransportDefinition   `hcl:"transport,block"`
	Session     *SessionDefinition     `hcl:"session,block"`
	Idempotency *IdempotencyDefinition `hcl:"idempotency,block"`
	Backends    *BackendsDefinition    `hcl:"backends,block"`
}

type TransportDefinition struct {
	Type          *string        `hcl:"type,optional"`
	BufferSize    *int           `hcl:"buffer_size,optional"`
	MaxDeliveries *int           `hcl:"max_deliveries,optional"`
	Addr          *string        `hcl:"addr,optional"`
	Password      *string        `hcl:"password,optional"`
	DB            *int           `hcl:"db,optional"`
	Group         *string        `hcl:"group,optional"`
	Consumer      *string        `hcl:"consumer,optional"`
	Block         hcl.Expression `hcl:"block,optional"`
	ClaimMinIdle  hcl.Expression `hcl:"claim_min_idle,optional"`
	RetryDelay    hcl.Expression `hcl:"retry_delay,optional"`
	BatchSize     *int64         `hcl:"batch_size,optional"`
	MaxLen        *int64         `hcl:"max_len,optional"`
	DefRange      hcl.Range      `hcl:",def_range"`
}

type SessionDefinition struct {
	Store     *string        `hcl:"store,optional"`
	TTL       hcl.Expression `hcl:"ttl,optional"`
	KeyPrefix *string        `hcl:"key_prefix,optional"`
	Addr      *string        `hcl:"addr,optional"`
	DefRange  hcl.Range      `hcl:",def_range"`
}

type IdempotencyDefinition struct {
	TTL      hcl.Expression `hcl:"ttl,optional"`
	Sweep    *string        `hcl:"sweep,optional"`
	Timezone *string        `hcl:"timezone,optional"`
	DefRange hcl.Range      `hcl:",def_range"`
}

type BackendsDefinition struct {
	Lobby        *bool `hcl:"lobby,optional"`
	GameState    *bool `hcl:"gamestate,optional"`
	WireReserved *bool `hcl:"wire_reserved,optional"`
}
