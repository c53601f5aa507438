// Package evidence checks the citations an analysis reports: every cited
// URL must resolve to a reachable page on an allow-listed domain. Citations
// that fail are collected with a reason and converted into a bounded
// confidence penalty rather than a hard rejection.
package evidence

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/brandintel/internal/model"
)

const (
	// probeTimeout bounds each HEAD request.
	probeTimeout = 5 * time.Second

	// maxPenalty caps the confidence penalty no matter how many citations
	// fail.
	maxPenalty = 0.3
)

// Validator HEAD-probes cited URLs against a per-call domain allow-list.
type Validator struct {
	http *http.Client
}

// NewValidator builds a Validator with a redirect-following HTTP client.
func NewValidator() *Validator {
	return &Validator{
		http: &http.Client{
			Timeout: probeTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: probeTimeout,
				}).DialContext,
				TLSHandshakeTimeout: probeTimeout,
				MaxIdleConnsPerHost: 10,
			},
		},
	}
}

// NewValidatorWithClient builds a Validator around the given client. Tests
// inject an httptest client here.
func NewValidatorWithClient(hc *http.Client) *Validator {
	return &Validator{http: hc}
}

// Validate probes every URL in parallel and partitions them into valid and
// invalid, preserving input order within each list. The returned penalty is
// min(invalid/total × 0.3, 0.3), zero for an empty input.
func (v *Validator) Validate(ctx context.Context, urls []string, allow []string) model.EvidenceValidation {
	result := model.EvidenceValidation{
		Valid:   []string{},
		Invalid: []model.InvalidEvidence{},
	}
	if len(urls) == 0 {
		return result
	}

	allowed := newDomainSet(allow)

	// reasons[i] == "" means urls[i] passed. Indexed writes keep the
	// fan-out lock-free and the output in input order.
	reasons := make([]string, len(urls))

	g, gCtx := errgroup.WithContext(ctx)
	for i, u := range urls {
		g.Go(func() error {
			reasons[i] = v.check(gCtx, u, allowed)
			return nil
		})
	}
	_ = g.Wait()

	for i, u := range urls {
		if reasons[i] == "" {
			result.Valid = append(result.Valid, u)
		} else {
			result.Invalid = append(result.Invalid, model.InvalidEvidence{URL: u, Reason: reasons[i]})
		}
	}

	result.ConfidencePenalty = Penalty(len(result.Invalid), len(urls))

	if len(result.Invalid) > 0 {
		zap.L().Info("evidence: citations rejected",
			zap.Int("total", len(urls)),
			zap.Int("invalid", len(result.Invalid)),
			zap.Float64("penalty", result.ConfidencePenalty),
		)
	}
	return result
}

// check returns "" when the citation passes, else the rejection reason.
func (v *Validator) check(ctx context.Context, rawURL string, allowed domainSet) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "domain not allowed"
	}
	if !allowed.contains(u.Host) {
		return "domain not allowed"
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, rawURL, nil)
	if err != nil {
		return err.Error()
	}

	resp, err := v.http.Do(req)
	if err != nil {
		return err.Error()
	}
	_ = resp.Body.Close()

	// The client follows redirects; resp.Request holds the final hop.
	if !allowed.contains(resp.Request.URL.Host) {
		return "redirected off-domain"
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return ""
}

// Penalty converts an invalid/total ratio into the bounded confidence
// penalty. Zero total means zero penalty.
func Penalty(invalid, total int) float64 {
	if total == 0 {
		return 0
	}
	p := float64(invalid) / float64(total) * maxPenalty
	if p > maxPenalty {
		return maxPenalty
	}
	return p
}

// domainSet holds normalized hostnames for allow-list membership checks.
type domainSet map[string]struct{}

func newDomainSet(domains []string) domainSet {
	s := make(domainSet, len(domains))
	for _, d := range domains {
		s[normalizeHost(d)] = struct{}{}
	}
	return s
}

func (s domainSet) contains(host string) bool {
	_, ok := s[normalizeHost(host)]
	return ok
}

// normalizeHost lowercases, strips any port, and drops a leading "www." so
// www.acme.com and acme.com compare equal.
func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimPrefix(host, "www.")
}
