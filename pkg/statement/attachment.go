package statement

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/skilltrace/lrs/pkg/types"
)

// The reserved (usageType, contentType) pair designating a JWS signature
// attachment.
const (
	SignatureUsageType   = "http://adlnet.gov/expapi/attachments/signature"
	SignatureContentType = "application/octet-stream"
)

// Attachment declares a binary part carried alongside a statement, keyed by
// its SHA-2 digest.
type Attachment struct {
	UsageType   string            `json:"usageType"`
	Display     types.LanguageMap `json:"display"`
	Description types.LanguageMap `json:"description,omitempty"`
	ContentType string            `json:"contentType"`
	Length      int64             `json:"length"`
	SHA2        string            `json:"sha2"`
	FileURL     string            `json:"fileUrl,omitempty"`
}

func (a *Attachment) UnmarshalJSON(data []byte) error {
	type wire Attachment
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var w wire
	if err := dec.Decode(&w); err != nil {
		return fmt.Errorf("attachment: %w", err)
	}
	*a = Attachment(w)
	return nil
}

// Validate reports attachment violations.
func (a *Attachment) Validate() []error {
	var errs []error
	if a.UsageType == "" {
		errs = append(errs, fmt.Errorf("attachment: usageType is required"))
	} else if _, err := types.ParseIRI(a.UsageType); err != nil {
		errs = append(errs, fmt.Errorf("attachment usageType: %w", err))
	}
	if len(a.Display) == 0 {
		errs = append(errs, fmt.Errorf("attachment: display is required"))
	} else if err := a.Display.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("attachment display: %w", err))
	}
	if err := a.Description.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("attachment description: %w", err))
	}
	if a.ContentType == "" {
		errs = append(errs, fmt.Errorf("attachment: contentType is required"))
	}
	if a.Length <= 0 {
		errs = append(errs, fmt.Errorf("attachment: length must be positive, got %d", a.Length))
	}
	if !types.IsSHA2Hex(a.SHA2) {
		errs = append(errs, fmt.Errorf("attachment sha2 %q: not a SHA-2 hex digest", a.SHA2))
	}
	if a.FileURL != "" {
		if _, err := types.ParseIRL(a.FileURL); err != nil {
			errs = append(errs, fmt.Errorf("attachment fileUrl: %w", err))
		}
	}
	return errs
}

// IsSignature reports whether the attachment declares a JWS signature.
func (a *Attachment) IsSignature() bool {
	return types.IRI(a.UsageType).Normalized() == types.IRI(SignatureUsageType).Normalized() &&
		strings.EqualFold(a.ContentType, SignatureContentType)
}
