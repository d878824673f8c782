// Package rsconfig loads the static per-resource-server configuration file
// (resource_servers.json) and indexes it by resource server id.
//
// A lookup for an unknown id yields the zero ResourceServer rather than an
// error: "unknown resource server" is a valid answer. A missing or malformed
// file is a configuration error and is reported loudly by Load.
package rsconfig

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
)

// FileName is the name of the resource server configuration file inside
// the configured directory.
const FileName = "resource_servers.json"

// RoleIdentityProvider marks a resource server that publishes signed UDAP
// metadata as an identity provider.
const RoleIdentityProvider = "idp"

var (
	// ErrConfiguration indicates the configuration file is missing, malformed,
	// or references identity material that cannot be read.
	ErrConfiguration = errors.New("rsconfig: configuration error")

	// ErrIncompleteConfig indicates a resource server lacks the material an
	// operation needs (trust anchor or identity).
	ErrIncompleteConfig = errors.New("rsconfig: incomplete resource server configuration")
)

// Identity is the signing identity of a resource server.
type Identity struct {
	// IdentityStore is the path to a PKCS#12 bundle. Relative paths are
	// resolved against the configuration file's directory.
	IdentityStore    string `json:"identity_store" jsonschema:"description=Path to a PKCS#12 bundle holding the certificate chain and private key"`
	IdentityStorePwd string `json:"identity_store_pwd,omitempty" jsonschema:"description=Password of the PKCS#12 bundle"`
	SAN              string `json:"san" jsonschema:"description=Subject Alternative Name selecting the certificate used for signing"`

	// StoreData holds the bundle bytes read at load time.
	StoreData []byte `json:"-"`
}

// ResourceServer is one entry of the configuration file.
type ResourceServer struct {
	ID               string    `json:"id" jsonschema:"required,minLength=1"`
	Role             string    `json:"role,omitempty" jsonschema:"description=Role of the resource server; idp publishes signed UDAP metadata"`
	Identity         *Identity `json:"identity,omitempty"`
	TrustAnchor      string    `json:"trust_anchor,omitempty" jsonschema:"description=Inline PEM certificate or path to a PEM file"`
	SigningAlgorithm string    `json:"signing_algorithm,omitempty" jsonschema:"enum=RS256,enum=RS384,enum=RS512,enum=ES256,enum=ES384,enum=ES512"`
}

// IsZero reports whether rs is the empty record returned for unknown ids.
func (rs ResourceServer) IsZero() bool { return rs.ID == "" }

// RequireTrustAnchor returns the PEM trust anchor or ErrIncompleteConfig.
func (rs ResourceServer) RequireTrustAnchor() (string, error) {
	if strings.TrimSpace(rs.TrustAnchor) == "" {
		return "", fmt.Errorf("%w: resource server %q has no trust_anchor", ErrIncompleteConfig, rs.ID)
	}
	return rs.TrustAnchor, nil
}

// RequireIdentity returns the signing identity or ErrIncompleteConfig.
func (rs ResourceServer) RequireIdentity() (*Identity, error) {
	if rs.Identity == nil || len(rs.Identity.StoreData) == 0 {
		return nil, fmt.Errorf("%w: resource server %q has no identity", ErrIncompleteConfig, rs.ID)
	}
	if rs.Identity.SAN == "" {
		return nil, fmt.Errorf("%w: resource server %q has no identity san", ErrIncompleteConfig, rs.ID)
	}
	return rs.Identity, nil
}

type snapshot struct {
	byID map[string]ResourceServer
}

// Store serves lookups from an immutable snapshot of the configuration file.
// Reload swaps the snapshot atomically; Store is safe for concurrent use.
type Store struct {
	path string
	snap atomic.Pointer[snapshot]
}

// Load reads dir/resource_servers.json. If path names a file rather than a
// directory it is used directly.
func Load(path string) (*Store, error) {
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		path = filepath.Join(path, FileName)
	}
	s := &Store{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the resolved configuration file path.
func (s *Store) Path() string { return s.path }

// Reload re-reads the configuration file. On failure the previous snapshot
// remains active.
func (s *Store) Reload() error {
	snap, err := readFile(s.path)
	if err != nil {
		return err
	}
	s.snap.Store(snap)
	return nil
}

// Get returns the configuration for id, or the zero ResourceServer when no
// entry matches.
func (s *Store) Get(id string) ResourceServer {
	snap := s.snap.Load()
	if snap == nil {
		return ResourceServer{}
	}
	return snap.byID[id]
}

// IDs returns the configured resource server ids.
func (s *Store) IDs() []string {
	snap := s.snap.Load()
	if snap == nil {
		return nil
	}
	ids := make([]string, 0, len(snap.byID))
	for id := range snap.byID {
		ids = append(ids, id)
	}
	return ids
}

func readFile(path string) (*snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrConfiguration, path, err)
	}
	var entries []ResourceServer
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrConfiguration, path, err)
	}

	dir := filepath.Dir(path)
	snap := &snapshot{byID: make(map[string]ResourceServer, len(entries))}
	for i := range entries {
		rs := entries[i]
		if rs.ID == "" {
			return nil, fmt.Errorf("%w: entry %d has no id", ErrConfiguration, i)
		}
		// First entry wins for duplicate ids.
		if _, dup := snap.byID[rs.ID]; dup {
			continue
		}
		if err := resolveMaterial(dir, &rs); err != nil {
			return nil, fmt.Errorf("%w: resource server %q: %v", ErrConfiguration, rs.ID, err)
		}
		snap.byID[rs.ID] = rs
	}
	return snap, nil
}

func resolveMaterial(dir string, rs *ResourceServer) error {
	if rs.Identity != nil && rs.Identity.IdentityStore != "" {
		data, err := os.ReadFile(resolvePath(dir, rs.Identity.IdentityStore))
		if err != nil {
			return fmt.Errorf("identity_store: %w", err)
		}
		id := *rs.Identity
		id.StoreData = data
		rs.Identity = &id
	}
	if ta := strings.TrimSpace(rs.TrustAnchor); ta != "" && !strings.HasPrefix(ta, "-----BEGIN") {
		data, err := os.ReadFile(resolvePath(dir, ta))
		if err != nil {
			return fmt.Errorf("trust_anchor: %w", err)
		}
		rs.TrustAnchor = string(data)
	}
	return nil
}

func resolvePath(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
