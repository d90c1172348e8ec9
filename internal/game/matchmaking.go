package game

import (
	"context"
	"errors"
)

const defaultPairScanLimit = 5

// matchWaiting looks for one waiting opponent, oldest first. A candidate is
// only joinable while its shadow session is active, unplayed and unpaired;
// anything else cancels the candidate's entry. On success the caller takes
// the right side of the candidate's session.
func matchWaiting(ctx context.Context, tx Tx, sc *startCtx) (*Session, error) {
	pr := sc.cfg.PvP
	userID := sc.profile.UserID
	limit := pr.PairScanLimit
	if limit <= 0 {
		limit = defaultPairScanLimit
	}
	entries, err := tx.ClaimWaiting(ctx, userID, sc.now, limit)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		cand, err := tx.SessionByRef(ctx, VariantPvP, e.SessionRef, true)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if err != nil || !joinable(cand, userID, sc) {
			if err := tx.SetQueueStatus(ctx, e.ID, QueueCancelled, nil); err != nil {
				return nil, err
			}
			continue
		}

		uid := userID
		cand.PvP.UserRightID = &uid
		cand.PvP.OpponentType = OpponentLive
		cand.PvP.RightMode = sc.mode
		cand.ExpiresAt = sc.now.Add(pr.SessionTTL)
		cand.UpdatedAt = sc.now
		if err := tx.UpdateSession(ctx, cand); err != nil {
			return nil, err
		}
		if err := tx.SetQueueStatus(ctx, e.ID, QueueMatched, &uid); err != nil {
			return nil, err
		}
		owner := e.UserID
		if _, err := tx.Enqueue(ctx, &QueueEntry{
			UserID:      userID,
			SessionRef:  cand.Ref,
			Status:      QueueMatched,
			MatchedWith: &owner,
			RequestRef:  sc.draft.Ref,
			CreatedAt:   sc.now,
			ExpiresAt:   sc.now.Add(pr.QueueTTL),
		}); err != nil {
			return nil, err
		}
		return cand, nil
	}
	return nil, nil
}

func joinable(cand *Session, userID string, sc *startCtx) bool {
	return cand.Status == StatusActive &&
		!cand.ExpiredAt(sc.now) &&
		cand.UserID != userID &&
		cand.SeasonID == sc.seasonID &&
		cand.PvP != nil &&
		cand.PvP.UserRightID == nil &&
		cand.ActionCount == 0
}

// enqueueWaiting files a fresh shadow session so a later player can join it.
func enqueueWaiting(ctx context.Context, tx Tx, sc *startCtx, sess *Session) error {
	_, err := tx.Enqueue(ctx, &QueueEntry{
		UserID:     sess.UserID,
		SessionRef: sess.Ref,
		Status:     QueueWaiting,
		CreatedAt:  sc.now,
		ExpiresAt:  sc.now.Add(sc.cfg.PvP.QueueTTL),
	})
	return err
}

// joinedByRequest returns the session userID joined with start ref ref.
func joinedByRequest(ctx context.Context, tx Tx, userID, ref string) (*Session, error) {
	e, err := tx.QueueEntryByRequest(ctx, userID, ref)
	if err != nil {
		return nil, err
	}
	return tx.SessionByRef(ctx, VariantPvP, e.SessionRef, false)
}
