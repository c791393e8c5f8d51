package store

import (
	"context"

	"farmassist/pkg/domain"
)

// Proofs stores claim proof state under "proof:<userId>:<claimId>".
type Proofs struct{ *base }

// Put stores the proof state of a claim. DownloadURL is never persisted.
func (r *Proofs) Put(ctx context.Context, p domain.Proof) error {
	if err := checkKeyPart("userId", p.UserID); err != nil {
		return err
	}
	if err := checkKeyPart("claimId", p.ClaimID); err != nil {
		return err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = r.now()
	}
	p.DownloadURL = ""
	return r.kv.Set(ctx, ownedKey(entityProof, p.UserID, p.ClaimID), p)
}

// Get loads the proof state of a claim.
func (r *Proofs) Get(ctx context.Context, userID, claimID string) (domain.Proof, bool, error) {
	if err := checkKeyPart("userId", userID); err != nil {
		return domain.Proof{}, false, err
	}
	if err := checkKeyPart("claimId", claimID); err != nil {
		return domain.Proof{}, false, err
	}
	return getJSON[domain.Proof](ctx, r.kv, ownedKey(entityProof, userID, claimID))
}
