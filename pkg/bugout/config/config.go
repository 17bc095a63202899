// Package config loads the HCL files that describe a bugout deployment:
// which transport carries the topics, where sessions live, how long
// request outcomes are remembered, and which backends this process runs.
package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/tsarna/bugout/pkg/bugout/session"
	"github.com/tsarna/bugout/pkg/bugout/sweep"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"go.uber.org/zap"
)

const (
	TransportMemory = "memory"
	TransportRedis  = "redis"

	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type ConfigBuilder struct {
	logger  *zap.Logger
	sources []any
}

type Config struct {
	Logger    *zap.Logger
	Functions map[string]function.Function
	Constants map[string]cty.Value
	evalCtx   *hcl.EvalContext

	Transport   TransportConfig
	Session     SessionConfig
	Idempotency IdempotencyConfig
	Backends    BackendsConfig
}

type TransportConfig struct {
	Type          string
	BufferSize    int
	MaxDeliveries int
	Redis         RedisConfig
}

// RedisConfig holds the Redis Streams settings. Zero values leave the
// transport's own defaults in place.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	Group        string
	Consumer     string
	Block        time.Duration
	ClaimMinIdle time.Duration
	RetryDelay   time.Duration
	BatchSize    int64
	MaxLen       int64
}

type SessionConfig struct {
	Store     string
	TTL       time.Duration
	KeyPrefix string
	// Addr is the Redis server for the session store. Empty means the
	// transport's server.
	Addr string
}

type IdempotencyConfig struct {
	TTL      time.Duration
	Sweep    string
	Location *time.Location
}

type BackendsConfig struct {
	Lobby        bool
	GameState    bool
	WireReserved bool
}

func NewConfig() *ConfigBuilder {
	return &ConfigBuilder{
		sources: make([]any, 0),
	}
}

func (cb *ConfigBuilder) WithLogger(logger *zap.Logger) *ConfigBuilder {
	cb.logger = logger
	return cb
}

// WithSources adds files, directories, embedded filesystems or raw bytes
// to read. Everything is merged into one configuration.
func (cb *ConfigBuilder) WithSources(sources ...any) *ConfigBuilder {
	cb.sources = append(cb.sources, sources...)
	return cb
}

func (cb *ConfigBuilder) Build() (*Config, hcl.Diagnostics) {
	logger := cb.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	config := &Config{
		Logger:    logger,
		Functions: GetFunctions(),
		Constants: make(map[string]cty.Value),
	}

	bodies, diags := ParseConfigFiles(cb.sources...)
	if diags.HasErrors() {
		return nil, diags
	}
	body := hcl.MergeBodies(bodies)

	config.Constants["env"] = GetEnvObject()
	config.evalCtx = &hcl.EvalContext{
		Functions: config.Functions,
		Variables: config.Constants,
	}

	content, remain, addDiags := body.PartialContent(constSchema)
	diags = diags.Extend(addDiags)
	if diags.HasErrors() {
		return nil, diags
	}

	diags = diags.Extend(config.processConstants(content.Blocks))
	if diags.HasErrors() {
		return nil, diags
	}

	var file fileDefinition
	diags = diags.Extend(gohcl.DecodeBody(remain, config.evalCtx, &file))
	if diags.HasErrors() {
		return nil, diags
	}

	diags = diags.Extend(config.processTransport(file.Transport))
	diags = diags.Extend(config.processSession(file.Session))
	diags = diags.Extend(config.processIdempotency(file.Idempotency))
	diags = diags.Extend(config.processBackends(file.Backends))
	if diags.HasErrors() {
		return nil, diags
	}

	config.Logger.Info("Config built successfully",
		zap.String("transport", config.Transport.Type),
		zap.String("sessionStore", config.Session.Store),
	)

	return config, diags
}

// processConstants evaluates const blocks. A constant may refer to env
// and to the functions, but not to other constants.
func (c *Config) processConstants(blocks hcl.Blocks) hcl.Diagnostics {
	var diags hcl.Diagnostics
	seen := make(map[string]*hcl.Attribute)
	evalCtx := &hcl.EvalContext{
		Functions: c.Functions,
		Variables: map[string]cty.Value{"env": c.Constants["env"]},
	}

	for _, block := range blocks {
		attrs, addDiags := block.Body.JustAttributes()
		diags = diags.Extend(addDiags)

		names := make([]string, 0, len(attrs))
		for name := range attrs {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			attr := attrs[name]
			if prior, exists := seen[name]; exists || name == "env" {
				detail := fmt.Sprintf("%s is reserved", name)
				if exists {
					detail = fmt.Sprintf("Attribute %s at %v is already defined at %v", name, attr.NameRange, prior.NameRange)
				}
				diags = diags.Append(&hcl.Diagnostic{
					Severity: hcl.DiagError,
					Summary:  "Duplicate attribute",
					Detail:   detail,
					Subject:  &attr.NameRange,
				})
				continue
			}
			seen[name] = attr

			value, valDiags := attr.Expr.Value(evalCtx)
			diags = diags.Extend(valDiags)
			c.Constants[name] = value
		}
	}

	return diags
}

func (c *Config) processTransport(def *TransportDefinition) hcl.Diagnostics {
	c.Transport = TransportConfig{
		Type:          TransportMemory,
		BufferSize:    1000,
		MaxDeliveries: 3,
	}
	if def == nil {
		return nil
	}

	var diags hcl.Diagnostics
	t := &c.Transport
	if def.Type != nil {
		t.Type = *def.Type
	}
	switch t.Type {
	case TransportMemory, TransportRedis:
	default:
		diags = diags.Append(invalid(def.DefRange, "Invalid transport type",
			fmt.Sprintf("transport type must be %q or %q, got %q", TransportMemory, TransportRedis, t.Type)))
	}

	if def.BufferSize != nil {
		t.BufferSize = *def.BufferSize
	}
	if def.MaxDeliveries != nil {
		t.MaxDeliveries = *def.MaxDeliveries
	}
	if t.BufferSize <= 0 || t.MaxDeliveries <= 0 {
		diags = diags.Append(invalid(def.DefRange, "Invalid transport limits",
			"buffer_size and max_deliveries must be positive"))
	}

	r := &t.Redis
	r.Addr = stringOr(def.Addr, "")
	r.Password = stringOr(def.Password, "")
	r.Group = stringOr(def.Group, "")
	r.Consumer = stringOr(def.Consumer, "")
	if def.DB != nil {
		r.DB = *def.DB
	}
	if def.BatchSize != nil {
		r.BatchSize = *def.BatchSize
	}
	if def.MaxLen != nil {
		r.MaxLen = *def.MaxLen
	}

	var addDiags hcl.Diagnostics
	r.Block, addDiags = c.optionalDuration(def.Block, 0)
	diags = diags.Extend(addDiags)
	r.ClaimMinIdle, addDiags = c.optionalDuration(def.ClaimMinIdle, 0)
	diags = diags.Extend(addDiags)
	r.RetryDelay, addDiags = c.optionalDuration(def.RetryDelay, 0)
	diags = diags.Extend(addDiags)

	if t.Type == TransportRedis && r.Addr == "" {
		diags = diags.Append(invalid(def.DefRange, "Missing Redis address",
			"a redis transport needs an addr"))
	}

	return diags
}

func (c *Config) processSession(def *SessionDefinition) hcl.Diagnostics {
	// a redis transport means the gateway and backends may run as separate
	// processes, so sessions default to living beside the streams
	store := StoreMemory
	if c.Transport.Type == TransportRedis {
		store = StoreRedis
	}
	c.Session = SessionConfig{
		Store:     store,
		TTL:       24 * time.Hour,
		KeyPrefix: session.DefaultKeyPrefix,
	}
	if def == nil {
		return nil
	}

	var diags hcl.Diagnostics
	s := &c.Session
	s.Store = stringOr(def.Store, s.Store)
	s.KeyPrefix = stringOr(def.KeyPrefix, s.KeyPrefix)
	s.Addr = stringOr(def.Addr, "")

	var addDiags hcl.Diagnostics
	s.TTL, addDiags = c.optionalDuration(def.TTL, s.TTL)
	diags = diags.Extend(addDiags)

	switch s.Store {
	case StoreMemory:
		if c.Transport.Type == TransportRedis {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagWarning,
				Summary:  "Session store is process-local",
				Detail:   "sessions issued by one process will not validate in another process sharing the redis transport",
				Subject:  &def.DefRange,
			})
		}
	case StoreRedis:
		if s.Addr == "" && c.Transport.Redis.Addr == "" {
			diags = diags.Append(invalid(def.DefRange, "Missing Redis address",
				"a redis session store needs an addr here or in the transport block"))
		}
	default:
		diags = diags.Append(invalid(def.DefRange, "Invalid session store",
			fmt.Sprintf("session store must be %q or %q, got %q", StoreMemory, StoreRedis, s.Store)))
	}

	return diags
}

// SessionAddr is the Redis server the session store should use.
func (c *Config) SessionAddr() string {
	if c.Session.Addr != "" {
		return c.Session.Addr
	}
	return c.Transport.Redis.Addr
}

func (c *Config) processIdempotency(def *IdempotencyDefinition) hcl.Diagnostics {
	c.Idempotency = IdempotencyConfig{
		TTL:      10 * time.Minute,
		Sweep:    "@every 1m",
		Location: time.Local,
	}
	if def == nil {
		return nil
	}

	var diags hcl.Diagnostics
	i := &c.Idempotency

	var addDiags hcl.Diagnostics
	i.TTL, addDiags = c.optionalDuration(def.TTL, i.TTL)
	diags = diags.Extend(addDiags)

	i.Sweep = stringOr(def.Sweep, i.Sweep)
	if _, err := sweep.Parser.Parse(i.Sweep); err != nil {
		diags = diags.Append(invalid(def.DefRange, "Invalid sweep schedule", err.Error()))
	}

	if def.Timezone != nil {
		location, err := time.LoadLocation(*def.Timezone)
		if err != nil {
			diags = diags.Append(invalid(def.DefRange, "Invalid timezone",
				fmt.Sprintf("Invalid timezone: %s", *def.Timezone)))
		} else {
			i.Location = location
		}
	}

	return diags
}

func (c *Config) processBackends(def *BackendsDefinition) hcl.Diagnostics {
	c.Backends = BackendsConfig{Lobby: true, GameState: true}
	if def == nil {
		return nil
	}

	c.Backends.Lobby = boolOr(def.Lobby, true)
	c.Backends.GameState = boolOr(def.GameState, true)
	c.Backends.WireReserved = boolOr(def.WireReserved, false)
	return nil
}

func (c *Config) optionalDuration(expr hcl.Expression, fallback time.Duration) (time.Duration, hcl.Diagnostics) {
	if !IsExpressionProvided(expr) {
		return fallback, nil
	}
	return c.ParseDuration(expr)
}

func invalid(subject hcl.Range, summary, detail string) *hcl.Diagnostic {
	return &hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  summary,
		Detail:   detail,
		Subject:  subject.Ptr(),
	}
}

func stringOr(v *string, fallback string) string {
	if v == nil {
		return fallback
	}
	return *v
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
