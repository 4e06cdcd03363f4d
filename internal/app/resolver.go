package app

import (
	"context"
	"encoding/json"
	"log"

	"moonbase/api/internal/auth"
	"moonbase/api/internal/forum"
	"moonbase/api/internal/manifest"
	"moonbase/api/internal/rbac"
)

// Outcome names how a webhook delivery was resolved.
type Outcome string

const (
	OutcomeApproved          Outcome = "approved"
	OutcomeAlreadyPublic     Outcome = "already_public"
	OutcomeBadSignature      Outcome = "bad_signature"
	OutcomeMalformed         Outcome = "malformed"
	OutcomeIgnoredEvent      Outcome = "ignored_event"
	OutcomeDuplicateDelivery Outcome = "duplicate_delivery"
	OutcomeUnmanagedPost     Outcome = "unmanaged_post"
	OutcomeNotAdmin          Outcome = "not_admin"
	OutcomeMissingReaction   Outcome = "missing_reaction"
	OutcomeLookupFailed      Outcome = "lookup_failed"
	OutcomeApproveFailed     Outcome = "approve_failed"
)

type Resolution struct {
	Outcome Outcome
	Project string
	Version string
	Err     error
}

// LikeEvent is the part of a forum "like" webhook payload we read.
type LikeEvent struct {
	Post struct {
		ID      int64 `json:"id"`
		TopicID int64 `json:"topic_id"`
	} `json:"post"`
	User struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
}

type webhookPayload struct {
	Like *LikeEvent `json:"like"`
}

// HandleWebhook verifies and resolves one webhook delivery. It never fails:
// every outcome is reported through the Resolution so the caller can always
// acknowledge the sender the same way.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature, deliveryID string) Resolution {
	if err := auth.VerifyWebhookSignature([]byte(s.cfg.WebhookSecret), body, signature); err != nil {
		return Resolution{Outcome: OutcomeBadSignature, Err: err}
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Resolution{Outcome: OutcomeMalformed, Err: err}
	}
	if payload.Like == nil {
		return Resolution{Outcome: OutcomeIgnoredEvent}
	}

	if deliveryID != "" && s.deliveries != nil {
		first, err := s.deliveries.FirstSeen(ctx, deliveryID, "like")
		if err != nil {
			log.Printf("webhook: delivery %s dedupe check failed: %v", deliveryID, err)
		} else if !first {
			return Resolution{Outcome: OutcomeDuplicateDelivery}
		}
	}

	return s.ResolveLike(ctx, *payload.Like)
}

// ResolveLike maps a like to a version under review and approves it when
// the liking user is an administrator who also left the approval reaction
// on the post.
func (s *Service) ResolveLike(ctx context.Context, like LikeEvent) Resolution {
	s.mu.Lock()
	review, err := s.manifests.Read(manifest.Review)
	s.mu.Unlock()
	if err != nil {
		return Resolution{Outcome: OutcomeLookupFailed, Err: err}
	}

	match, ok := review.FindPost(like.Post.TopicID, like.Post.ID)
	if !ok {
		return Resolution{Outcome: OutcomeUnmanagedPost}
	}
	resolution := Resolution{Project: match.Project, Version: match.Record.ID}

	user, err := s.forum.GetUserInfo(ctx, like.User.ID)
	if err != nil {
		log.Printf("webhook: look up user %d: %v", like.User.ID, err)
		resolution.Outcome = OutcomeLookupFailed
		resolution.Err = err
		return resolution
	}
	role := rbac.RoleFromGroups(user.GroupNames(), s.cfg.Policy.AdminGroup)
	if !rbac.Can(role, rbac.ActionApprove) {
		resolution.Outcome = OutcomeNotAdmin
		return resolution
	}

	reactions, err := s.forum.GetReactionUsers(ctx, like.Post.ID)
	if err != nil {
		log.Printf("webhook: list reactions on post %d: %v", like.Post.ID, err)
		resolution.Outcome = OutcomeLookupFailed
		resolution.Err = err
		return resolution
	}
	if !hasReaction(reactions, s.cfg.Policy.ApprovalReaction, like.User.Username) {
		resolution.Outcome = OutcomeMissingReaction
		return resolution
	}

	result, err := s.Approve(ctx, match.Project, match.Record.ID, like.User.Username)
	switch {
	case err != nil:
		log.Printf("webhook: approve %s %s: %v", match.Project, match.Record.ID, err)
		resolution.Outcome = OutcomeApproveFailed
		resolution.Err = err
	case result.AlreadyPublic:
		resolution.Outcome = OutcomeAlreadyPublic
	default:
		resolution.Outcome = OutcomeApproved
	}
	return resolution
}

func hasReaction(reactions []forum.ReactionUsers, reaction, username string) bool {
	for _, entry := range reactions {
		if entry.ID != reaction {
			continue
		}
		for _, user := range entry.Users {
			if user.Username == username {
				return true
			}
		}
	}
	return false
}
