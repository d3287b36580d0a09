package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type OwnershipStatus string

const (
	OwnershipPending  OwnershipStatus = "pending"
	OwnershipVerified OwnershipStatus = "verified"
	OwnershipFailed   OwnershipStatus = "failed"
)

// Terminal reports whether the status can only change through re-registration.
func (s OwnershipStatus) Terminal() bool {
	return s == OwnershipVerified || s == OwnershipFailed
}

type SSLStatus string

const (
	SSLPending SSLStatus = "pending"
	SSLActive  SSLStatus = "active"
	SSLFailed  SSLStatus = "failed"
)

func (s SSLStatus) Terminal() bool {
	return s == SSLActive || s == SSLFailed
}

// Axis names one of the two independent verification tracks.
type Axis string

const (
	AxisOwnership Axis = "ownership"
	AxisSSL       Axis = "ssl"
)

type CustomDomain struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Domain    string    `json:"domain" db:"domain"`
	CreatedBy string    `json:"createdBy" db:"created_by"`
	IsDefault bool      `json:"isDefault" db:"is_default"`
	IsEnabled bool      `json:"isEnabled" db:"is_enabled"`

	OwnershipStatus             OwnershipStatus `json:"ownershipStatus" db:"ownership_status"`
	OwnershipValidationTxtName  string          `json:"ownershipValidationTxtName" db:"ownership_validation_txt_name"`
	OwnershipValidationTxtValue string          `json:"ownershipValidationTxtValue" db:"ownership_validation_txt_value"`

	SSLStatus             SSLStatus `json:"sslStatus" db:"ssl_status"`
	SSLValidationTxtName  string    `json:"sslValidationTxtName" db:"ssl_validation_txt_name"`
	SSLValidationTxtValue string    `json:"sslValidationTxtValue" db:"ssl_validation_txt_value"`

	CloudflareHostnameID string   `json:"cloudflareHostnameId" db:"cloudflare_hostname_id"`
	ValidationErrors     []string `json:"validationErrors" db:"-"`

	// VerificationStartedAt is the start of the current verification window.
	// Reset on re-registration.
	VerificationStartedAt time.Time `json:"verificationStartedAt" db:"verification_started_at"`
	CreatedAt             time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt             time.Time `json:"updatedAt" db:"updated_at"`
}

// IsValidForUse is the routing invariant: enabled, SSL active and ownership verified.
func (d *CustomDomain) IsValidForUse() bool {
	return d.IsEnabled && d.SSLStatus == SSLActive && d.OwnershipStatus == OwnershipVerified
}

// Settled reports whether both axes reached a terminal state.
func (d *CustomDomain) Settled() bool {
	return d.OwnershipStatus.Terminal() && d.SSLStatus.Terminal()
}

// HasFailedAxis reports whether re-registration is possible.
func (d *CustomDomain) HasFailedAxis() bool {
	return d.OwnershipStatus == OwnershipFailed || d.SSLStatus == SSLFailed
}

// VerificationPatch is the only mutation the verifier may apply to a record.
// Nil fields are left untouched.
type VerificationPatch struct {
	OwnershipStatus             *OwnershipStatus
	OwnershipValidationTxtName  *string
	OwnershipValidationTxtValue *string
	SSLStatus                   *SSLStatus
	SSLValidationTxtName        *string
	SSLValidationTxtValue       *string
	ValidationErrors            []string
	SetValidationErrors         bool
	// WindowStart is the verification_started_at the patch was computed
	// against. When set, the patch is rejected if verification has been
	// restarted since.
	WindowStart time.Time
}

func (p *VerificationPatch) Empty() bool {
	return p.OwnershipStatus == nil &&
		p.OwnershipValidationTxtName == nil &&
		p.OwnershipValidationTxtValue == nil &&
		p.SSLStatus == nil &&
		p.SSLValidationTxtName == nil &&
		p.SSLValidationTxtValue == nil &&
		!p.SetValidationErrors
}

// Apply copies the patch onto d, the way the store persists it.
func (p *VerificationPatch) Apply(d *CustomDomain) {
	if p.OwnershipStatus != nil {
		d.OwnershipStatus = *p.OwnershipStatus
	}
	if p.OwnershipValidationTxtName != nil {
		d.OwnershipValidationTxtName = *p.OwnershipValidationTxtName
	}
	if p.OwnershipValidationTxtValue != nil {
		d.OwnershipValidationTxtValue = *p.OwnershipValidationTxtValue
	}
	if p.SSLStatus != nil {
		d.SSLStatus = *p.SSLStatus
	}
	if p.SSLValidationTxtName != nil {
		d.SSLValidationTxtName = *p.SSLValidationTxtName
	}
	if p.SSLValidationTxtValue != nil {
		d.SSLValidationTxtValue = *p.SSLValidationTxtValue
	}
	if p.SetValidationErrors {
		d.ValidationErrors = append([]string(nil), p.ValidationErrors...)
	}
}

// Challenge is a DNS TXT record the owner must publish.
type Challenge struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ValidationErrorsFor returns the reasons recorded for one axis.
func ValidationErrorsFor(errs []string, axis Axis) []string {
	prefix := string(axis) + ": "
	var out []string
	for _, e := range errs {
		if strings.HasPrefix(e, prefix) {
			out = append(out, e)
		}
	}
	return out
}

// ReplaceAxisErrors drops the reasons of one axis and appends reasons.
// Reasons of the other axis are kept, since the two tracks are independent.
func ReplaceAxisErrors(errs []string, axis Axis, reasons ...string) []string {
	prefix := string(axis) + ": "
	out := make([]string, 0, len(errs)+len(reasons))
	for _, e := range errs {
		if !strings.HasPrefix(e, prefix) {
			out = append(out, e)
		}
	}
	for _, r := range reasons {
		out = append(out, prefix+r)
	}
	return out
}

// Resolution is what the resolver endpoint and the edge router exchange.
type Resolution struct {
	Domain    string `json:"domain"`
	IsValid   bool   `json:"isValid"`
	SSLStatus string `json:"sslStatus"`
}

// ResolutionNotFound is the sslStatus reported for unknown hostnames.
const ResolutionNotFound = "not_found"

func ResolutionFor(d *CustomDomain) Resolution {
	return Resolution{
		Domain:    d.Domain,
		IsValid:   d.IsValidForUse(),
		SSLStatus: string(d.SSLStatus),
	}
}

// DNSInstruction is a record the owner needs to create.
type DNSInstruction struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Value   string `json:"value"`
	Purpose string `json:"purpose"`
}

// Instructions lists the CNAME pointing at the edge and the TXT challenges.
func Instructions(d *CustomDomain, edgeTarget string) []DNSInstruction {
	out := []DNSInstruction{{
		Type:    "CNAME",
		Name:    d.Domain,
		Value:   edgeTarget,
		Purpose: "routing",
	}}
	if d.OwnershipValidationTxtName != "" {
		out = append(out, DNSInstruction{
			Type:    "TXT",
			Name:    d.OwnershipValidationTxtName,
			Value:   d.OwnershipValidationTxtValue,
			Purpose: string(AxisOwnership),
		})
	}
	if d.SSLValidationTxtName != "" {
		out = append(out, DNSInstruction{
			Type:    "TXT",
			Name:    d.SSLValidationTxtName,
			Value:   d.SSLValidationTxtValue,
			Purpose: string(AxisSSL),
		})
	}
	return out
}

// Reregistration restarts verification for the failed axes of a record
// with fresh challenge values.
type Reregistration struct {
	ResetOwnership bool
	ResetSSL       bool
	Ownership      Challenge
	SSL            Challenge
}
