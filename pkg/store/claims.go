package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"farmassist/pkg/domain"
	"farmassist/pkg/kv"
)

const (
	initialClaimStatus   = domain.ClaimVerified
	initialClaimProgress = 30
)

// ClaimInput is the client-supplied part of a new claim.
type ClaimInput struct {
	Crop        string
	Event       string
	Amount      float64
	Description string
}

// ClaimPatch lists the fields a claim update may overwrite. Nil fields are
// left as stored.
type ClaimPatch struct {
	Status      *domain.ClaimStatus `json:"status,omitempty"`
	Progress    *int                `json:"progress,omitempty"`
	Amount      *float64            `json:"amount,omitempty"`
	Description *string             `json:"description,omitempty"`
	Crop        *string             `json:"crop,omitempty"`
	Event       *string             `json:"event,omitempty"`
	HasProof    *bool               `json:"hasProof,omitempty"`
}

func (p ClaimPatch) empty() bool {
	return p.Status == nil && p.Progress == nil && p.Amount == nil && p.Description == nil &&
		p.Crop == nil && p.Event == nil && p.HasProof == nil
}

func (p ClaimPatch) validate() error {
	if p.empty() {
		return domain.Invalid("patch", "at least one of status, progress, amount, description, crop, event, hasProof is required")
	}
	if p.Status != nil && !p.Status.Valid() {
		return domain.Invalid("status", "status must be one of submitted, verified, in-progress, completed, rejected")
	}
	if p.Progress != nil && (*p.Progress < 0 || *p.Progress > 100) {
		return domain.Invalid("progress", "progress must be between 0 and 100")
	}
	if p.Amount != nil && *p.Amount <= 0 {
		return domain.Invalid("amount", "amount must be greater than zero")
	}
	if p.Crop != nil && strings.TrimSpace(*p.Crop) == "" {
		return domain.Invalid("crop", "crop must not be empty")
	}
	if p.Event != nil && strings.TrimSpace(*p.Event) == "" {
		return domain.Invalid("event", "event must not be empty")
	}
	return nil
}

// Claims stores insurance claims under "claim:<userId>:<claimId>".
type Claims struct{ *base }

// List returns the user's claims, most recently filed first.
func (r *Claims) List(ctx context.Context, userID string) ([]domain.Claim, error) {
	if err := checkKeyPart("userId", userID); err != nil {
		return nil, err
	}
	claims, err := listJSON[domain.Claim](ctx, r.kv, ownedPrefix(entityClaim, userID))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(claims, func(i, j int) bool {
		if claims[i].Date.Equal(claims[j].Date) {
			return claims[i].ID > claims[j].ID
		}
		return claims[i].Date.After(claims[j].Date)
	})
	return claims, nil
}

// Get returns one claim or a NotFoundError.
func (r *Claims) Get(ctx context.Context, userID, claimID string) (domain.Claim, error) {
	if err := checkKeyPart("userId", userID); err != nil {
		return domain.Claim{}, err
	}
	if err := checkKeyPart("claimId", claimID); err != nil {
		return domain.Claim{}, err
	}
	claim, ok, err := getJSON[domain.Claim](ctx, r.kv, ownedKey(entityClaim, userID, claimID))
	if err != nil {
		return domain.Claim{}, err
	}
	if !ok {
		return domain.Claim{}, &domain.NotFoundError{Entity: "Claim", ID: claimID}
	}
	return claim, nil
}

// Create files a claim. New claims start verified at 30% progress and carry
// the digest of their filing facts.
func (r *Claims) Create(ctx context.Context, userID string, in ClaimInput) (domain.Claim, error) {
	if err := checkKeyPart("userId", userID); err != nil {
		return domain.Claim{}, err
	}
	in.Crop = strings.TrimSpace(in.Crop)
	in.Event = strings.TrimSpace(in.Event)
	if in.Crop == "" {
		return domain.Claim{}, domain.Invalid("crop", "crop is required")
	}
	if in.Event == "" {
		return domain.Claim{}, domain.Invalid("event", "event is required")
	}
	if in.Amount <= 0 {
		return domain.Claim{}, domain.Invalid("amount", "amount must be greater than zero")
	}
	id, now, err := r.uniqueID(ctx, "claim", claimID, func(id string) string {
		return ownedKey(entityClaim, userID, id)
	})
	if err != nil {
		return domain.Claim{}, err
	}
	claim := domain.Claim{
		ID:          id,
		UserID:      userID,
		Crop:        in.Crop,
		Event:       in.Event,
		Status:      initialClaimStatus,
		Amount:      in.Amount,
		Description: strings.TrimSpace(in.Description),
		Date:        now,
		Progress:    initialClaimProgress,
		HasProof:    true,
	}
	claim.ProofHash = ProofDigest(claim)
	if err := r.kv.Set(ctx, ownedKey(entityClaim, userID, id), claim); err != nil {
		return domain.Claim{}, err
	}
	return claim, nil
}

// Update shallow-merges patch over the stored claim: patched fields win and
// everything else, including fields this version does not know about, is
// kept. The read and the write are not atomic; concurrent updates of one
// claim race and the last write wins.
func (r *Claims) Update(ctx context.Context, userID, claimID string, patch ClaimPatch) (domain.Claim, error) {
	if err := checkKeyPart("userId", userID); err != nil {
		return domain.Claim{}, err
	}
	if err := checkKeyPart("claimId", claimID); err != nil {
		return domain.Claim{}, err
	}
	if err := patch.validate(); err != nil {
		return domain.Claim{}, err
	}
	key := ownedKey(entityClaim, userID, claimID)
	stored, ok, err := getJSON[map[string]json.RawMessage](ctx, r.kv, key)
	if err != nil {
		return domain.Claim{}, err
	}
	if !ok {
		return domain.Claim{}, &domain.NotFoundError{Entity: "Claim", ID: claimID}
	}

	patchDoc, err := json.Marshal(patch)
	if err != nil {
		return domain.Claim{}, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(patchDoc, &fields); err != nil {
		return domain.Claim{}, err
	}
	for name, value := range fields {
		stored[name] = value
	}

	merged, err := json.Marshal(stored)
	if err != nil {
		return domain.Claim{}, &kv.StorageError{Op: "encode", Key: key, Err: err}
	}
	var claim domain.Claim
	if err := json.Unmarshal(merged, &claim); err != nil {
		return domain.Claim{}, &kv.StorageError{Op: "decode", Key: key, Err: err}
	}
	if err := r.kv.Set(ctx, key, json.RawMessage(merged)); err != nil {
		return domain.Claim{}, err
	}
	return claim, nil
}

// Summarize totals a user's claims. Completed claims count as received;
// anything not yet completed or rejected counts as pending.
func Summarize(claims []domain.Claim) domain.ClaimSummary {
	sum := domain.ClaimSummary{Count: len(claims)}
	for _, c := range claims {
		switch {
		case c.Status == domain.ClaimCompleted:
			sum.TotalReceived += c.Amount
		case !c.Status.Terminal():
			sum.TotalPending += c.Amount
		}
	}
	return sum
}

// ProofDigest is the hex SHA-256 of the canonical JSON of a claim's filing
// facts. encoding/json sorts map keys, which makes the encoding canonical.
func ProofDigest(c domain.Claim) string {
	facts := map[string]any{
		"amount":  c.Amount,
		"claimId": c.ID,
		"crop":    c.Crop,
		"event":   c.Event,
		"filedAt": c.Date.UTC().Format(time.RFC3339Nano),
		"userId":  c.UserID,
	}
	data, _ := json.Marshal(facts)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
