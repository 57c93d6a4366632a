package network

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bitrise-io/go-davtransfer/network/chunkuploader"
	"github.com/bitrise-io/go-davtransfer/network/redirect"
	"github.com/bitrise-io/go-davtransfer/network/resolver"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/docker/go-units"
)

// Environment variables read by ConfigFromEnv.
const (
	ResolverTTLEnvKey           = "DAVTRANSFER_RESOLVER_TTL"
	MaxRedirectHopsEnvKey       = "DAVTRANSFER_MAX_REDIRECT_HOPS"
	DAVRootEnvKey               = "DAVTRANSFER_DAV_ROOT"
	IdPMarkersEnvKey            = "DAVTRANSFER_IDP_MARKERS"
	TransportRetriesEnvKey      = "DAVTRANSFER_TRANSPORT_RETRIES"
	MeteredChunkSizeEnvKey      = "DAVTRANSFER_METERED_CHUNK_SIZE"
	UnmeteredChunkSizeEnvKey    = "DAVTRANSFER_UNMETERED_CHUNK_SIZE"
	AssembleTimeoutMinEnvKey    = "DAVTRANSFER_ASSEMBLE_TIMEOUT_MIN"
	AssembleTimeoutPerGiBEnvKey = "DAVTRANSFER_ASSEMBLE_TIMEOUT_PER_GIB"
	AssembleTimeoutMaxEnvKey    = "DAVTRANSFER_ASSEMBLE_TIMEOUT_MAX"
)

// Config is the configuration of a Client.
type Config struct {
	// ResolverTTL is how long resolved addresses are cached.
	ResolverTTL time.Duration
	// MaxRedirectHops is the redirect budget of a single request.
	MaxRedirectHops int
	// DAVRoot marks the start of the WebDAV namespace in server URLs.
	DAVRoot string
	// IdPMarkers are case-insensitive location fragments of identity provider logins.
	IdPMarkers []string
	// TransportRetries is how many times a request failing without any response is retried.
	TransportRetries int
	Upload           chunkuploader.Config
}

// DefaultConfig ...
func DefaultConfig() Config {
	return Config{
		ResolverTTL:      resolver.DefaultTTL,
		MaxRedirectHops:  redirect.DefaultMaxHops,
		DAVRoot:          redirect.DefaultDAVRoot,
		IdPMarkers:       append([]string{}, redirect.DefaultIdPMarkers...),
		TransportRetries: 0,
		Upload:           chunkuploader.DefaultConfig(),
	}
}

// Validate ...
func (c Config) Validate() error {
	if c.ResolverTTL < 0 {
		return fmt.Errorf("resolver TTL must not be negative, got %s", c.ResolverTTL)
	}
	if c.MaxRedirectHops < 0 {
		return fmt.Errorf("max redirect hops must not be negative, got %d", c.MaxRedirectHops)
	}
	if c.TransportRetries < 0 {
		return fmt.Errorf("transport retries must not be negative, got %d", c.TransportRetries)
	}
	if err := c.Upload.Validate(); err != nil {
		return fmt.Errorf("upload config: %w", err)
	}
	return nil
}

// ConfigFromEnv returns DefaultConfig overridden by the DAVTRANSFER_* environment variables that are set.
func ConfigFromEnv(envRepo env.Repository) (Config, error) {
	config := DefaultConfig()
	p := envParser{envRepo: envRepo}

	p.duration(ResolverTTLEnvKey, &config.ResolverTTL)
	p.int(MaxRedirectHopsEnvKey, &config.MaxRedirectHops)
	p.int(TransportRetriesEnvKey, &config.TransportRetries)
	p.size(MeteredChunkSizeEnvKey, &config.Upload.MeteredChunkSize)
	p.size(UnmeteredChunkSizeEnvKey, &config.Upload.UnmeteredChunkSize)
	p.duration(AssembleTimeoutMinEnvKey, &config.Upload.AssembleTimeoutMin)
	p.duration(AssembleTimeoutPerGiBEnvKey, &config.Upload.AssembleTimeoutPerGiB)
	p.duration(AssembleTimeoutMaxEnvKey, &config.Upload.AssembleTimeoutMax)

	if v := strings.TrimSpace(envRepo.Get(DAVRootEnvKey)); v != "" {
		config.DAVRoot = v
	}
	if v := strings.TrimSpace(envRepo.Get(IdPMarkersEnvKey)); v != "" {
		config.IdPMarkers = splitList(v)
	}

	if p.err != nil {
		return Config{}, p.err
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// envParser keeps the first parse error, later calls are no-ops.
type envParser struct {
	envRepo env.Repository
	err     error
}

func (p *envParser) value(key string) (string, bool) {
	if p.err != nil {
		return "", false
	}
	v := strings.TrimSpace(p.envRepo.Get(key))
	return v, v != ""
}

func (p *envParser) duration(key string, dst *time.Duration) {
	v, ok := p.value(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.err = fmt.Errorf("invalid %s (%s): %w", key, v, err)
		return
	}
	*dst = d
}

func (p *envParser) int(key string, dst *int) {
	v, ok := p.value(key)
	if !ok {
		return
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		p.err = fmt.Errorf("invalid %s (%s): %w", key, v, err)
		return
	}
	*dst = i
}

// size accepts human readable sizes like 512KB or 10MB, interpreted in binary units.
func (p *envParser) size(key string, dst *int64) {
	v, ok := p.value(key)
	if !ok {
		return
	}
	size, err := units.RAMInBytes(v)
	if err != nil {
		p.err = fmt.Errorf("invalid %s (%s): %w", key, v, err)
		return
	}
	*dst = size
}

func splitList(s string) []string {
	var items []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
