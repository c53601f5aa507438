package evidence

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_EmptyInput(t *testing.T) {
	v := NewValidator()

	got := v.Validate(context.Background(), nil, []string{"acme.com"})

	assert.Empty(t, got.Valid)
	assert.Empty(t, got.Invalid)
	assert.Zero(t, got.ConfidencePenalty)
}

func TestValidate_DomainNotAllowed(t *testing.T) {
	v := NewValidator()

	got := v.Validate(context.Background(),
		[]string{"https://evil.example/page"},
		[]string{"acme.com"},
	)

	require.Len(t, got.Invalid, 1)
	assert.Equal(t, "domain not allowed", got.Invalid[0].Reason)
	assert.InDelta(t, 0.3, got.ConfidencePenalty, 1e-9)
}

func TestValidate_WWWPrefixIgnored(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	v := NewValidatorWithClient(srv.Client())

	// The allow-list carries the www form; the citation does not.
	got := v.Validate(context.Background(), []string{srv.URL + "/about"}, []string{"www.127.0.0.1"})

	assert.Len(t, got.Valid, 1)
	assert.Empty(t, got.Invalid)
	assert.Zero(t, got.ConfidencePenalty)
}

func TestValidate_Non2xxRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gone" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	v := NewValidatorWithClient(srv.Client())

	got := v.Validate(context.Background(),
		[]string{srv.URL + "/ok", srv.URL + "/gone"},
		[]string{"127.0.0.1"},
	)

	require.Len(t, got.Valid, 1)
	require.Len(t, got.Invalid, 1)
	assert.Equal(t, srv.URL+"/gone", got.Invalid[0].URL)
	assert.Equal(t, "HTTP 404", got.Invalid[0].Reason)
	assert.InDelta(t, 0.15, got.ConfidencePenalty, 1e-9)
}

func TestValidate_RedirectOffDomain(t *testing.T) {
	off := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer off.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, off.URL+"/landing", http.StatusFound)
	}))
	defer srv.Close()

	v := NewValidatorWithClient(srv.Client())

	// Both servers answer on 127.0.0.1, so the allow-list pins localhost
	// instead and the redirect target falls outside it.
	got := v.Validate(context.Background(),
		[]string{"http://localhost:" + portOf(t, srv.URL) + "/page"},
		[]string{"localhost"},
	)

	require.Len(t, got.Invalid, 1)
	assert.Equal(t, "redirected off-domain", got.Invalid[0].Reason)
}

func TestValidate_TransportErrorReasonIsErrorText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close() // nothing listens there anymore

	v := NewValidator()

	got := v.Validate(context.Background(), []string{addr + "/x"}, []string{"127.0.0.1"})

	require.Len(t, got.Invalid, 1)
	assert.Contains(t, got.Invalid[0].Reason, "connection refused")
}

func TestValidate_OrderFollowsInput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	v := NewValidatorWithClient(srv.Client())

	var urls []string
	for i := 0; i < 6; i++ {
		urls = append(urls, fmt.Sprintf("%s/p%d", srv.URL, i))
	}
	got := v.Validate(context.Background(), urls, []string{"127.0.0.1"})

	assert.Equal(t, urls, got.Valid)
}

func TestPenalty_Bounds(t *testing.T) {
	tests := []struct {
		name           string
		invalid, total int
		want           float64
	}{
		{"empty", 0, 0, 0},
		{"none invalid", 0, 10, 0},
		{"half invalid", 5, 10, 0.15},
		{"all invalid", 10, 10, 0.3},
		{"capped", 100, 10, 0.3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Penalty(tt.invalid, tt.total), 1e-9)
		})
	}
}

func portOf(t *testing.T, rawURL string) string {
	t.Helper()
	for i := len(rawURL) - 1; i >= 0; i-- {
		if rawURL[i] == ':' {
			return rawURL[i+1:]
		}
	}
	t.Fatalf("no port in %s", rawURL)
	return ""
}
