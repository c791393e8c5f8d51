package app

import (
	"context"

	"farmassist/internal/util"
	"farmassist/pkg/domain"
	"farmassist/pkg/store"
)

// Claims lists a farmer's claims, newest first, with payout totals.
func (a *App) Claims(ctx context.Context, userID string) ([]domain.Claim, domain.ClaimSummary, error) {
	claims, err := a.repos.Claims.List(ctx, userID)
	if err != nil {
		return nil, domain.ClaimSummary{}, err
	}
	return claims, store.Summarize(claims), nil
}

// FileClaim stores a new claim and starts anchoring its proof digest.
// Anchoring problems are logged and never fail the filing.
func (a *App) FileClaim(ctx context.Context, userID string, in store.ClaimInput) (domain.Claim, error) {
	claim, err := a.repos.Claims.Create(ctx, userID, in)
	if err != nil {
		return domain.Claim{}, err
	}
	logger := util.LoggerFromContext(ctx).With("user_id", userID, "claim_id", claim.ID)
	proof := domain.Proof{
		ClaimID: claim.ID,
		UserID:  userID,
		Hash:    claim.ProofHash,
		Status:  domain.ProofPending,
	}
	if err := a.repos.Proofs.Put(ctx, proof); err != nil {
		logger.Warn("record pending proof", "err", err)
		return claim, nil
	}
	a.scheduleProof(ctx, claim)
	return claim, nil
}

// UpdateClaim merges patch into a stored claim. Status values are checked
// but any known status may follow any other.
func (a *App) UpdateClaim(ctx context.Context, userID, claimID string, patch store.ClaimPatch) (domain.Claim, error) {
	return a.repos.Claims.Update(ctx, userID, claimID, patch)
}

// ClaimProof returns the anchoring state of a claim's proof, with a
// short-lived download link once the manifest is in object storage.
func (a *App) ClaimProof(ctx context.Context, userID, claimID string) (domain.Proof, error) {
	if _, err := a.repos.Claims.Get(ctx, userID, claimID); err != nil {
		return domain.Proof{}, err
	}
	proof, ok, err := a.repos.Proofs.Get(ctx, userID, claimID)
	if err != nil {
		return domain.Proof{}, err
	}
	if !ok {
		return domain.Proof{}, &domain.NotFoundError{Entity: "Proof", ID: claimID}
	}
	if proof.Status == domain.ProofAnchored && proof.ObjectKey != "" && a.objects != nil {
		url, err := a.objects.PresignGet(ctx, proof.ObjectKey, a.urlExpiry)
		if err != nil {
			util.LoggerFromContext(ctx).Warn("presign proof manifest", "key", proof.ObjectKey, "err", err)
		} else {
			proof.DownloadURL = url
		}
	}
	return proof, nil
}
