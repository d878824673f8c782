// Package registrytest is a conformance suite for idpregistry.Registry
// implementations.
package registrytest

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/udap-gateway-go/idpregistry"
)

// Factory creates a new, empty Registry for a single test.
type Factory func(t *testing.T) idpregistry.Registry

// Run runs the complete Registry test suite against the provided factory.
func Run(t *testing.T, factory Factory) {
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, factory) })
	t.Run("UnknownIDP", func(t *testing.T) { testUnknownIDP(t, factory) })
	t.Run("FirstWriterWins", func(t *testing.T) { testFirstWriterWins(t, factory) })
	t.Run("ConcurrentFirstContactConverges", func(t *testing.T) { testConcurrentConvergence(t, factory) })
	t.Run("RejectsIncompleteMapping", func(t *testing.T) { testRejectsIncomplete(t, factory) })
	t.Run("IsolationBetweenIDPs", func(t *testing.T) { testIsolation(t, factory) })
}

// Sample returns a complete mapping for idpID.
func Sample(idpID string) idpregistry.Mapping {
	return idpregistry.Mapping{
		IDPID:                    idpID,
		IDPName:                  "idp-" + idpID,
		IDPBaseURL:               "https://idp.example.org/" + idpID,
		InternalCredentials:      "secret-" + idpID,
		OriginalResourceServerID: "rs1",
	}
}

func open(t *testing.T, factory Factory) (idpregistry.Registry, context.Context) {
	t.Helper()
	r := factory(t)
	t.Cleanup(func() { _ = r.Close() })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return r, ctx
}

func testRoundTrip(t *testing.T, factory Factory) {
	r, ctx := open(t, factory)
	want := Sample("client-1")

	created, err := r.Register(ctx, want)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !created {
		t.Fatalf("expected first registration to create the record")
	}
	got, err := r.Lookup(ctx, want.IDPID)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if *got != want {
		t.Fatalf("lookup = %+v, want %+v", *got, want)
	}
}

func testUnknownIDP(t *testing.T, factory Factory) {
	r, ctx := open(t, factory)
	if _, err := r.Lookup(ctx, "missing"); !errors.Is(err, idpregistry.ErrUnknownIDP) {
		t.Fatalf("want ErrUnknownIDP, got %v", err)
	}
}

func testFirstWriterWins(t *testing.T, factory Factory) {
	r, ctx := open(t, factory)
	first := Sample("client-1")
	second := first
	second.InternalCredentials = "other"
	second.OriginalResourceServerID = "rs2"

	if created, err := r.Register(ctx, first); err != nil || !created {
		t.Fatalf("first register: created=%v err=%v", created, err)
	}
	created, err := r.Register(ctx, second)
	if err != nil {
		t.Fatalf("second register: %v", err)
	}
	if created {
		t.Fatalf("second register must not overwrite")
	}
	got, err := r.Lookup(ctx, first.IDPID)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if *got != first {
		t.Fatalf("lookup = %+v, want first writer %+v", *got, first)
	}
}

func testConcurrentConvergence(t *testing.T, factory Factory) {
	r, ctx := open(t, factory)
	const writers = 16

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := Sample("client-race")
			m.InternalCredentials = "writer-" + strconv.Itoa(i)
			created, err := r.Register(ctx, m)
			errs[i] = err
			if created {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("writer %d: %v", i, err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winning writer, got %d", winners)
	}
	a, err := r.Lookup(ctx, "client-race")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	b, err := r.Lookup(ctx, "client-race")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if *a != *b {
		t.Fatalf("record changed between reads: %+v vs %+v", *a, *b)
	}
}

func testRejectsIncomplete(t *testing.T, factory Factory) {
	r, ctx := open(t, factory)
	m := Sample("client-1")
	m.IDPID = ""
	if _, err := r.Register(ctx, m); !errors.Is(err, idpregistry.ErrInvalidMapping) {
		t.Fatalf("want ErrInvalidMapping, got %v", err)
	}
}

func testIsolation(t *testing.T, factory Factory) {
	r, ctx := open(t, factory)
	for _, id := range []string{"a", "b"} {
		if _, err := r.Register(ctx, Sample(id)); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	got, err := r.Lookup(ctx, "b")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.InternalCredentials != "secret-b" {
		t.Fatalf("lookup returned the wrong record: %+v", *got)
	}
}
