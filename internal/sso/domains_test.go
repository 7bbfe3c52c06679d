package sso

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDomain(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "acme.com", want: "acme.com"},
		{in: "ACME.COM", want: "acme.com"},
		{in: "  acme.com  ", want: "acme.com"},
		{in: "@acme.com", want: "acme.com"},
		{in: "sub.acme.co.uk", want: "sub.acme.co.uk"},
		{in: "", wantErr: true},
		{in: "acme", wantErr: true},
		{in: "-acme.com", wantErr: true},
		{in: "acme..com", wantErr: true},
		{in: "acme.com/path", wantErr: true},
		{in: "user@acme.com", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeDomain(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateAllowedDomains(t *testing.T) {
	got, err := ValidateAllowedDomains([]string{"Acme.com", "@beta.example.org"})
	require.NoError(t, err)
	assert.Equal(t, []string{"acme.com", "beta.example.org"}, got)

	_, err = ValidateAllowedDomains([]string{"not a domain"})
	assert.Error(t, err)

	_, err = ValidateAllowedDomains([]string{"acme.com", "ACME.com"})
	assert.ErrorIs(t, err, ErrDomainInvalid)

	many := make([]string, MaxAllowedDomains+1)
	for i := range many {
		many[i] = fmt.Sprintf("d%d.example.com", i)
	}
	_, err = ValidateAllowedDomains(many)
	assert.ErrorIs(t, err, ErrTooManyDomains)
}

func TestEmailDomain(t *testing.T) {
	domain, err := EmailDomain("User@ACME.com")
	require.NoError(t, err)
	assert.Equal(t, "acme.com", domain)

	_, err = EmailDomain("not-an-email")
	assert.Error(t, err)
}

func TestDomainAllowed(t *testing.T) {
	allowed := []string{"acme.com", "beta.example.org"}

	assert.True(t, DomainAllowed("a@acme.com", allowed))
	assert.True(t, DomainAllowed("a@ACME.COM", allowed))
	assert.True(t, DomainAllowed("a@beta.example.org", allowed))
	assert.False(t, DomainAllowed("a@other.com", allowed))
	assert.False(t, DomainAllowed("a@sub.acme.com", allowed))
	assert.False(t, DomainAllowed("not-an-email", allowed))
	assert.False(t, DomainAllowed("a@acme.com", nil))
}
