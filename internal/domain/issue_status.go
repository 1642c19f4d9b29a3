package domain

import "slices"

// IssueStatus enumerates the lifecycle states of an issue.
type IssueStatus string

const (
	// IssueStatusSubmitted indicates the issue was created but evidence is still pending.
	IssueStatusSubmitted IssueStatus = "submitted"
	// IssueStatusAwaitingReview indicates the issue sits in the review queue.
	IssueStatusAwaitingReview IssueStatus = "awaiting_review"
	// IssueStatusInfoRequested indicates staff asked the customer for more detail.
	IssueStatusInfoRequested IssueStatus = "info_requested"
	// IssueStatusApprovedReprint indicates staff approved a free replacement.
	IssueStatusApprovedReprint IssueStatus = "approved_reprint"
	// IssueStatusApprovedRefund indicates staff approved a refund.
	IssueStatusApprovedRefund IssueStatus = "approved_refund"
	// IssueStatusRejected indicates staff declined the issue.
	IssueStatusRejected IssueStatus = "rejected"
	// IssueStatusProcessing is the transient state while a refund call is in flight.
	IssueStatusProcessing IssueStatus = "processing"
	// IssueStatusCompleted indicates the approved resolution was executed.
	IssueStatusCompleted IssueStatus = "completed"
	// IssueStatusClosed indicates the issue was closed without a resolution.
	IssueStatusClosed IssueStatus = "closed"
)

var issueStatuses = []IssueStatus{
	IssueStatusSubmitted,
	IssueStatusAwaitingReview,
	IssueStatusInfoRequested,
	IssueStatusApprovedReprint,
	IssueStatusApprovedRefund,
	IssueStatusRejected,
	IssueStatusProcessing,
	IssueStatusCompleted,
	IssueStatusClosed,
}

// AllIssueStatuses returns every known issue status, in lifecycle order.
func AllIssueStatuses() []IssueStatus {
	return slices.Clone(issueStatuses)
}

// IsValidIssueStatus reports whether the value is a known issue status.
func IsValidIssueStatus(status IssueStatus) bool {
	return slices.Contains(issueStatuses, status)
}

// IsReviewableIssueStatus reports whether an admin review action may run.
func IsReviewableIssueStatus(status IssueStatus) bool {
	return status == IssueStatusAwaitingReview || status == IssueStatusInfoRequested
}

// IsWithdrawableIssueStatus reports whether the customer may still delete the issue.
func IsWithdrawableIssueStatus(status IssueStatus) bool {
	return status == IssueStatusSubmitted || status == IssueStatusAwaitingReview
}

// IsProcessableIssueStatus reports whether an approved decision awaits execution.
func IsProcessableIssueStatus(status IssueStatus) bool {
	return status == IssueStatusApprovedReprint || status == IssueStatusApprovedRefund
}

// IsPendingIssueStatus reports whether the issue counts toward the customer's
// pending bucket.
func IsPendingIssueStatus(status IssueStatus) bool {
	return status == IssueStatusAwaitingReview || status == IssueStatusInfoRequested
}

// IsResolvedIssueStatus reports whether the issue counts as resolved.
func IsResolvedIssueStatus(status IssueStatus) bool {
	return status == IssueStatusCompleted || status == IssueStatusClosed
}

// NeedsAttentionIssueStatuses lists the statuses surfaced on the back-office
// attention counter.
func NeedsAttentionIssueStatuses() []IssueStatus {
	return []IssueStatus{IssueStatusAwaitingReview, IssueStatusApprovedReprint, IssueStatusApprovedRefund}
}
