package linkproof

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel markers delimiting the linking block inside a GitHub profile
// README. The block layout is persisted state shared with the web UI, so
// the markers and JSON shape must not change.
const (
	BeginMarker = "<!-- X-LINKING-BEGIN"
	EndMarker   = "X-LINKING-END -->"
)

var (
	// ErrNoBlock means the profile text contains no linking block.
	ErrNoBlock = errors.New("no linking block present")
	// ErrMalformedBlock means a block was found but its JSON payload is
	// invalid or fails schema validation.
	ErrMalformedBlock = errors.New("malformed linking block")
	// ErrDuplicateBlock means more than one linking block is present.
	// One block per profile is the invariant; a second occurrence is
	// treated as malformed data rather than silently truncated.
	ErrDuplicateBlock = errors.New("duplicate linking block")
)

// Claim is the signed assertion embedded in a profile README that a GitHub
// user controls an X account. Immutable once created; a later Upsert fully
// replaces an earlier claim.
type Claim struct {
	XUsername    string    `json:"xUsername"`
	XUserID      string    `json:"xUserId"`
	LinkedAt     time.Time `json:"linkedAt"`
	LinkingProof string    `json:"linkingProof"`
}

// blockPayload is the wire shape of the JSON between the markers.
type blockPayload struct {
	LastUpdated time.Time `json:"lastUpdated"`
	XAccount    Claim     `json:"xAccount"`
}

// Extract locates the linking block in text and parses its claim.
// Returns ErrNoBlock when either marker is missing or they are out of
// order, ErrDuplicateBlock when a second block follows the first, and
// ErrMalformedBlock when the payload fails parsing or validation.
func Extract(text string) (*Claim, error) {
	begin := strings.Index(text, BeginMarker)
	end := strings.Index(text, EndMarker)
	if begin < 0 || end < 0 || end <= begin {
		return nil, ErrNoBlock
	}

	rest := text[end+len(EndMarker):]
	if strings.Contains(rest, BeginMarker) {
		return nil, ErrDuplicateBlock
	}

	payload := text[begin+len(BeginMarker) : end]

	var block blockPayload
	if err := json.Unmarshal([]byte(payload), &block); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBlock, err)
	}

	claim := block.XAccount
	if err := claim.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBlock, err)
	}

	return &claim, nil
}

func (c Claim) validate() error {
	if strings.TrimSpace(c.XUsername) == "" {
		return errors.New("xUsername is required")
	}
	if strings.TrimSpace(c.XUserID) == "" {
		return errors.New("xUserId is required")
	}
	if strings.TrimSpace(c.LinkingProof) == "" {
		return errors.New("linkingProof is required")
	}
	if c.LinkedAt.IsZero() {
		return errors.New("linkedAt is required")
	}
	return nil
}

// Render serializes a claim into a complete linking block, markers
// included. Output is deterministic: stable key order, 2-space indent.
func Render(claim Claim) string {
	block := blockPayload{
		LastUpdated: claim.LinkedAt,
		XAccount:    claim,
	}
	// Marshal of a struct cannot fail
	data, _ := json.MarshalIndent(block, "", "  ")

	return BeginMarker + "\n" + string(data) + "\n" + EndMarker
}

// Upsert returns text with the linking block replaced by one rendering
// claim, or appended if no block exists. Parsing is marker-delimited and
// whitespace-tolerant, so surrounding README content is preserved as-is.
func Upsert(text string, claim Claim) string {
	rendered := Render(claim)

	begin := strings.Index(text, BeginMarker)
	end := strings.Index(text, EndMarker)
	if begin >= 0 && end > begin {
		return text[:begin] + rendered + text[end+len(EndMarker):]
	}

	switch {
	case text == "":
		return rendered
	case strings.HasSuffix(text, "\n"):
		return text + rendered
	default:
		return text + "\n\n" + rendered
	}
}
