package redaction

import "fmt"

// Kind is a detected entity class.
type Kind string

const (
	KindEmail       Kind = "EMAIL"
	KindPhone       Kind = "PHONE"
	KindCreditCard  Kind = "CREDIT_CARD"
	KindPerson      Kind = "PERSON"
	KindLocation    Kind = "LOCATION"
	KindAPIKey      Kind = "API_KEY"
	KindNationalIDA Kind = "NATIONAL_ID_A"
	KindNationalIDB Kind = "NATIONAL_ID_B"
)

// kindRank is the registration order. Overlap ties are broken in favour of
// the earlier-registered kind.
var kindRank = map[Kind]int{
	KindEmail:       0,
	KindPhone:       1,
	KindCreditCard:  2,
	KindPerson:      3,
	KindLocation:    4,
	KindAPIKey:      5,
	KindNationalIDA: 6,
	KindNationalIDB: 7,
}

// MaskMode selects how image regions are obscured.
type MaskMode string

const (
	MaskBlur  MaskMode = "blur"
	MaskSolid MaskMode = "solid"
)

// defaultTemplates are the stable placeholder literals per kind.
var defaultTemplates = map[Kind]string{
	KindEmail:      "[EMAIL_REDACTED]",
	KindPhone:      "[PHONE_REDACTED]",
	KindCreditCard: "[CREDIT_CARD_REDACTED]",
	KindPerson:     "[NAME_REDACTED]",
	KindLocation:   "[LOCATION_REDACTED]",
	KindAPIKey:     "[API_KEY_REDACTED]",
}

// Policy is the tenant's redaction policy. It is resolved once per run and
// fixed for the run's duration.
type Policy struct {
	ConfidenceThreshold float64         `json:"confidence_threshold"`
	WarnThreshold       float64         `json:"warn_threshold"`
	EnabledKinds        []Kind          `json:"enabled_kinds,omitempty"`
	EnableRegionalIDs   bool            `json:"enable_regional_ids"`
	Templates           map[Kind]string `json:"templates,omitempty"`
	Mask                MaskMode        `json:"mask"`

	IncludeInternalNotes bool `json:"include_internal_notes"`
	LastNPublicComments  int  `json:"last_n_public_comments"`
}

// DefaultPolicy returns the policy applied when a tenant has not configured
// one.
func DefaultPolicy() Policy {
	return Policy{
		ConfidenceThreshold: 0.5,
		WarnThreshold:       0.7,
		Mask:                MaskBlur,
		LastNPublicComments: 10,
	}
}

// Template returns the placeholder literal for a kind.
func (p Policy) Template(k Kind) string {
	if t, ok := p.Templates[k]; ok && t != "" {
		return t
	}
	if t, ok := defaultTemplates[k]; ok {
		return t
	}
	return fmt.Sprintf("[%s_REDACTED]", k)
}

// KindEnabled reports whether spans of kind k are acted on under this policy.
func (p Policy) KindEnabled(k Kind) bool {
	if k == KindNationalIDA || k == KindNationalIDB {
		if !p.EnableRegionalIDs {
			return false
		}
	}
	if len(p.EnabledKinds) == 0 {
		return true
	}
	for _, e := range p.EnabledKinds {
		if e == k {
			return true
		}
	}
	return false
}
