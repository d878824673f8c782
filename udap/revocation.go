package udap

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// ErrRevoked indicates a certificate appears on its issuer's CRL.
var ErrRevoked = errors.New("udap: certificate revoked")

// CRLChecker checks chain certificates against the CRLs named in their
// CRL distribution points. Fetched lists are cached until NextUpdate.
// Certificates without distribution points are accepted.
type CRLChecker struct {
	HTTP *http.Client
	Now  func() time.Time

	mu    sync.Mutex
	cache map[string]*x509.RevocationList
}

// NewCRLChecker returns a CRLChecker that fetches lists with client.
func NewCRLChecker(client *http.Client) *CRLChecker {
	if client == nil {
		client = http.DefaultClient
	}
	return &CRLChecker{HTTP: client, cache: make(map[string]*x509.RevocationList)}
}

// CheckChain implements RevocationChecker. The anchor (last element) is not
// checked.
func (c *CRLChecker) CheckChain(ctx context.Context, chain []*x509.Certificate) error {
	for i := 0; i+1 < len(chain); i++ {
		cert, issuer := chain[i], chain[i+1]
		for _, dp := range cert.CRLDistributionPoints {
			crl, err := c.list(ctx, dp, issuer)
			if err != nil {
				return err
			}
			for _, entry := range crl.RevokedCertificateEntries {
				if entry.SerialNumber.Cmp(cert.SerialNumber) == 0 {
					return fmt.Errorf("%w: serial %s", ErrRevoked, cert.SerialNumber)
				}
			}
		}
	}
	return nil
}

func (c *CRLChecker) list(ctx context.Context, url string, issuer *x509.Certificate) (*x509.RevocationList, error) {
	now := c.now()
	c.mu.Lock()
	cached, ok := c.cache[url]
	c.mu.Unlock()
	if ok && now.Before(cached.NextUpdate) {
		return cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("crl request %s: %w", url, err)
	}
	res, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch crl %s: %w", url, err)
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch crl %s: status %d", url, res.StatusCode)
	}
	der, err := io.ReadAll(io.LimitReader(res.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read crl %s: %w", url, err)
	}
	crl, err := x509.ParseRevocationList(der)
	if err != nil {
		return nil, fmt.Errorf("parse crl %s: %w", url, err)
	}
	if err := crl.CheckSignatureFrom(issuer); err != nil {
		return nil, fmt.Errorf("crl %s signature: %w", url, err)
	}

	c.mu.Lock()
	c.cache[url] = crl
	c.mu.Unlock()
	return crl, nil
}

func (c *CRLChecker) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
