package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leozw/custom-domains/internal/apperr"
)

func TestIsValidForUse(t *testing.T) {
	ownership := []OwnershipStatus{OwnershipPending, OwnershipVerified, OwnershipFailed}
	ssl := []SSLStatus{SSLPending, SSLActive, SSLFailed}

	for _, enabled := range []bool{true, false} {
		for _, o := range ownership {
			for _, s := range ssl {
				d := &CustomDomain{IsEnabled: enabled, OwnershipStatus: o, SSLStatus: s}
				want := enabled && o == OwnershipVerified && s == SSLActive
				assert.Equal(t, want, d.IsValidForUse(), "enabled=%v ownership=%s ssl=%s", enabled, o, s)
			}
		}
	}
}

func TestSettledAndFailedAxis(t *testing.T) {
	d := &CustomDomain{OwnershipStatus: OwnershipVerified, SSLStatus: SSLPending}
	assert.False(t, d.Settled())
	assert.False(t, d.HasFailedAxis())

	d.SSLStatus = SSLFailed
	assert.True(t, d.Settled())
	assert.True(t, d.HasFailedAxis())
}

func TestPatchApply(t *testing.T) {
	verified := OwnershipVerified
	name := "_cf-custom-hostname.links.example.com"
	d := &CustomDomain{OwnershipStatus: OwnershipPending, SSLStatus: SSLPending, ValidationErrors: []string{"ownership: not found"}}

	p := VerificationPatch{
		OwnershipStatus:            &verified,
		OwnershipValidationTxtName: &name,
		SetValidationErrors:        true,
	}
	require.False(t, p.Empty())
	p.Apply(d)

	assert.Equal(t, OwnershipVerified, d.OwnershipStatus)
	assert.Equal(t, SSLPending, d.SSLStatus)
	assert.Equal(t, name, d.OwnershipValidationTxtName)
	assert.Empty(t, d.ValidationErrors)
	assert.True(t, (&VerificationPatch{}).Empty())
}

func TestReplaceAxisErrorsKeepsOtherAxis(t *testing.T) {
	errs := []string{"ownership: TXT record not found", "ssl: validation timed out"}

	out := ReplaceAxisErrors(errs, AxisOwnership)
	assert.Equal(t, []string{"ssl: validation timed out"}, out)

	out = ReplaceAxisErrors(errs, AxisSSL, "hostname blocked")
	assert.Equal(t, []string{"ownership: TXT record not found", "ssl: hostname blocked"}, out)
	assert.Equal(t, []string{"ssl: hostname blocked"}, ValidationErrorsFor(out, AxisSSL))
}

func TestInstructions(t *testing.T) {
	d := &CustomDomain{
		Domain:                      "links.example.com",
		OwnershipValidationTxtName:  "_cf-custom-hostname.links.example.com",
		OwnershipValidationTxtValue: "abc",
	}
	out := Instructions(d, "edge.qrcodly.de")
	require.Len(t, out, 2)
	assert.Equal(t, "CNAME", out[0].Type)
	assert.Equal(t, "edge.qrcodly.de", out[0].Value)
	assert.Equal(t, "abc", out[1].Value)
}

func TestValidateCustomHostname(t *testing.T) {
	ok := map[string]string{
		"links.example.com":    "links.example.com",
		" Links.Example.COM. ": "links.example.com",
		"go.example.co.uk":     "go.example.co.uk",
		"münchen.example.de":   "xn--mnchen-3ya.example.de",
	}
	for in, want := range ok {
		got, err := ValidateCustomHostname(in, "qrcodly")
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	bad := []string{
		"",
		"example.com",
		"example.co.uk",
		"a.b.example.com",
		"links.qrcodly.de",
		"under_score.example.com",
		"-bad.example.com",
		"co.uk",
	}
	for _, in := range bad {
		_, err := ValidateCustomHostname(in, "qrcodly")
		require.Error(t, err, in)
		assert.True(t, apperr.Is(err, apperr.KindValidation), in)
	}
}
