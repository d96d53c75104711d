package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// ReferralStatus is the lifecycle of a referral record. It moves out of PENDING exactly once.
type ReferralStatus string

const (
	ReferralStatusPending  ReferralStatus = "PENDING"
	ReferralStatusVerified ReferralStatus = "VERIFIED"
	ReferralStatusRejected ReferralStatus = "REJECTED"
)

// ReviewStatus is the fraud classification attached to a referral.
type ReviewStatus string

const (
	ReviewStatusAutoApproved  ReviewStatus = "AUTO_APPROVED"
	ReviewStatusPendingReview ReviewStatus = "PENDING_REVIEW"
	ReviewStatusHighRisk      ReviewStatus = "HIGH_RISK"
	ReviewStatusRejected      ReviewStatus = "REJECTED"
)

// Risk flags raised by the fraud scorer.
const (
	FlagVelocityHour      = "VELOCITY_HOUR"
	FlagVelocityDay       = "VELOCITY_DAY"
	FlagVelocityWeek      = "VELOCITY_WEEK"
	FlagIPCluster         = "IP_CLUSTER"
	FlagDeviceCluster     = "DEVICE_CLUSTER"
	FlagUADuplicate       = "UA_DUPLICATE"
	FlagSelfReferral      = "SELF_REFERRAL"
	FlagSignalUnavailable = "SIGNAL_UNAVAILABLE"
)

// Referral represents one referral attempt.
type Referral struct {
	ID              string
	ReferrerID      string
	ReferredID      string
	Code            string
	Status          ReferralStatus
	ReviewStatus    ReviewStatus
	RiskScore       int
	Flags           []string
	OriginSignal    *string
	ClientSignature *string
	DeviceHash      *string
	CreatedAt       time.Time
	ReviewedBy      *string
	ReviewedAt      *time.Time
	ReviewReason    *string
}

// IsPending reports whether the referral has not been finalized yet.
func (r Referral) IsPending() bool {
	return r.Status == ReferralStatusPending
}

// ReferralAttempt carries the inputs supplied by the front-end when a referred user finishes registration.
type ReferralAttempt struct {
	ReferrerID      string
	ReferredID      string
	Code            string
	OriginSignal    string
	ClientSignature string
	DeviceSignal    string
}

// ScoreResult is the output of the fraud scorer.
type ScoreResult struct {
	Score        int
	Flags        []string
	ReviewStatus ReviewStatus
	Degraded     bool
}

// HasFlag reports whether flag was raised.
func (s ScoreResult) HasFlag(flag string) bool {
	for _, f := range s.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// ReviewQueueEntry is a denormalized view of a referral awaiting adjudication.
type ReviewQueueEntry struct {
	ReferralID   string
	ReferrerID   string
	ReferrerName string
	ReferredID   string
	ReferredName string
	RiskScore    int
	Flags        []string
	ReviewStatus ReviewStatus
	CreatedAt    time.Time
	Age          time.Duration
}

// ReviewDecision captures an administrator's adjudication of a queued referral.
type ReviewDecision struct {
	ReferralID string
	ReviewerID string
	Reason     string
}

// ReviewOutcome is returned after a referral has been finalized.
type ReviewOutcome struct {
	Referral  Referral
	Promotion *TransitionResult
}

// ReferralFinalization moves a PENDING referral into its terminal status.
type ReferralFinalization struct {
	ReferralID   string
	Status       ReferralStatus
	ReviewStatus ReviewStatus
	ReviewerID   *string
	Reason       *string
	DecidedAt    time.Time
}

// HashDeviceSignal returns the hex SHA-256 digest of a raw device signature. Empty input hashes to "".
func HashDeviceSignal(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
