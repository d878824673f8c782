package udaptest

import (
	"testing"

	"github.com/ggoodman/udap-gateway-go/internal/testpki"
	"github.com/ggoodman/udap-gateway-go/rsconfig"
)

// ResourceServer returns a fully populated configuration whose identity is
// a fresh leaf from ca carrying san.
func ResourceServer(t *testing.T, ca *testpki.CA, id, role, san string) rsconfig.ResourceServer {
	t.Helper()
	leaf := ca.Issue(t, san, testpki.LeafOptions{})
	return rsconfig.ResourceServer{
		ID:   id,
		Role: role,
		Identity: &rsconfig.Identity{
			IdentityStore:    id + ".p12",
			IdentityStorePwd: "changeit",
			SAN:              san,
			StoreData:        leaf.PKCS12(t, "changeit"),
		},
		TrustAnchor:      ca.PEM(),
		SigningAlgorithm: "RS256",
	}
}

// Configs is a static rsconfig lookup.
type Configs map[string]rsconfig.ResourceServer

func (c Configs) Get(id string) rsconfig.ResourceServer { return c[id] }
