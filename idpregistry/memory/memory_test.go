package memory

import (
	"context"
	"testing"

	"github.com/ggoodman/udap-gateway-go/idpregistry"
	"github.com/ggoodman/udap-gateway-go/idpregistry/registrytest"
)

func TestMemoryRegistry(t *testing.T) {
	registrytest.Run(t, func(t *testing.T) idpregistry.Registry { return New() })
}

func TestLookupReturnsCopy(t *testing.T) {
	r := New()
	ctx := context.Background()
	if _, err := r.Register(ctx, registrytest.Sample("c1")); err != nil {
		t.Fatalf("register: %v", err)
	}
	got, _ := r.Lookup(ctx, "c1")
	got.InternalCredentials = "mutated"
	again, _ := r.Lookup(ctx, "c1")
	if again.InternalCredentials != "secret-c1" {
		t.Fatalf("stored mapping was mutated through a lookup result")
	}
}
