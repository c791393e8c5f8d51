package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"farmassist/internal/util"
	"farmassist/pkg/domain"
	"farmassist/pkg/queue"
	"farmassist/pkg/storage"
)

// proofManifest is the document written to object storage for a claim.
type proofManifest struct {
	ClaimID   string    `json:"claimId"`
	UserID    string    `json:"userId"`
	Crop      string    `json:"crop"`
	Event     string    `json:"event"`
	Amount    float64   `json:"amount"`
	FiledAt   time.Time `json:"filedAt"`
	Algorithm string    `json:"algorithm"`
	Hash      string    `json:"hash"`
}

func (a *App) scheduleProof(ctx context.Context, claim domain.Claim) {
	logger := util.LoggerFromContext(ctx).With("user_id", claim.UserID, "claim_id", claim.ID)
	if a.proofs != nil {
		job, err := a.proofs.Enqueue(ctx, claim.UserID, claim.ID)
		if err == nil {
			logger.Debug("proof anchoring queued", "job_id", job.ID)
			return
		}
		logger.Warn("enqueue proof job, anchoring inline", "err", err)
	}
	if err := a.AnchorProof(ctx, claim.UserID, claim.ID); err != nil {
		logger.Warn("anchor proof", "err", err)
	}
}

// AnchorProof writes the claim's proof manifest to object storage, when one
// is configured, and marks the proof anchored. On failure the proof stays
// pending with the error recorded.
func (a *App) AnchorProof(ctx context.Context, userID, claimID string) error {
	claim, err := a.repos.Claims.Get(ctx, userID, claimID)
	if err != nil {
		return err
	}
	proof, ok, err := a.repos.Proofs.Get(ctx, userID, claimID)
	if err != nil {
		return err
	}
	if !ok {
		proof = domain.Proof{ClaimID: claimID, UserID: userID, Hash: claim.ProofHash, Status: domain.ProofPending}
	}
	if proof.Status == domain.ProofAnchored {
		return nil
	}

	if a.objects != nil {
		key := storage.ProofKey(userID, claimID)
		if err := a.putManifest(ctx, key, claim, proof.Hash); err != nil {
			proof.Error = err.Error()
			if perr := a.repos.Proofs.Put(ctx, proof); perr != nil {
				util.LoggerFromContext(ctx).Warn("record proof error", "claim_id", claimID, "err", perr)
			}
			return err
		}
		proof.ObjectKey = key
	}
	anchoredAt := a.now()
	proof.Status = domain.ProofAnchored
	proof.AnchoredAt = &anchoredAt
	proof.Error = ""
	if err := a.repos.Proofs.Put(ctx, proof); err != nil {
		// An object without an anchored record would never be served; drop it
		// so the retry starts clean.
		if proof.ObjectKey != "" {
			if derr := a.objects.Delete(ctx, proof.ObjectKey); derr != nil {
				util.LoggerFromContext(ctx).Warn("remove orphaned proof manifest", "key", proof.ObjectKey, "err", derr)
			}
		}
		return err
	}
	return nil
}

func (a *App) putManifest(ctx context.Context, key string, claim domain.Claim, hash string) error {
	doc, err := json.MarshalIndent(proofManifest{
		ClaimID:   claim.ID,
		UserID:    claim.UserID,
		Crop:      claim.Crop,
		Event:     claim.Event,
		Amount:    claim.Amount,
		FiledAt:   claim.Date,
		Algorithm: "sha256",
		Hash:      hash,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode proof manifest: %w", err)
	}
	return a.objects.Put(ctx, key, bytes.NewReader(doc), int64(len(doc)), "application/json")
}

// HandleProofJob is the queue handler for proof anchoring. When the job
// will not be retried again its proof is marked failed.
func (a *App) HandleProofJob(ctx context.Context, job queue.ProofJob) error {
	err := a.AnchorProof(ctx, job.UserID, job.ClaimID)
	switch {
	case err == nil:
		a.recorder.ProofAnchored("anchored")
		return nil
	case job.LastAttempt:
		a.recorder.ProofAnchored("failed")
		a.markProofFailed(ctx, job, err)
	default:
		a.recorder.ProofAnchored("retry")
	}
	util.LoggerFromContext(ctx).Warn("proof job attempt failed",
		"job_id", job.ID, "claim_id", job.ClaimID, "attempt", job.Attempts, "err", err)
	return err
}

func (a *App) markProofFailed(ctx context.Context, job queue.ProofJob, cause error) {
	proof, ok, err := a.repos.Proofs.Get(ctx, job.UserID, job.ClaimID)
	if err != nil || !ok {
		return
	}
	proof.Status = domain.ProofFailed
	proof.Error = cause.Error()
	if err := a.repos.Proofs.Put(ctx, proof); err != nil {
		util.LoggerFromContext(ctx).Warn("mark proof failed", "claim_id", job.ClaimID, "err", err)
	}
}
