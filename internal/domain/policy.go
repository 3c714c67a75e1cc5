package domain

import "fmt"

// TimeoutPolicy decides how a TimedOut record is reported to readers.
// It has no zero-value default; operators choose one.
type TimeoutPolicy string

const (
	TimeoutPresumeDeliverable   TimeoutPolicy = "deliverable"
	TimeoutPresumeUndeliverable TimeoutPolicy = "undeliverable"
	TimeoutUnknown              TimeoutPolicy = "unknown"
)

// ParseTimeoutPolicy validates an operator-provided policy name.
func ParseTimeoutPolicy(s string) (TimeoutPolicy, error) {
	switch p := TimeoutPolicy(s); p {
	case TimeoutPresumeDeliverable, TimeoutPresumeUndeliverable, TimeoutUnknown:
		return p, nil
	}
	return "", fmt.Errorf("timeout policy %q must be one of deliverable, undeliverable, unknown", s)
}

// ResubmitPolicy decides what a submission does when the address already has
// a resolved record.
type ResubmitPolicy string

const (
	// ResubmitReuse returns the resolved record without sending a new probe.
	ResubmitReuse ResubmitPolicy = "reuse"
	// ResubmitReverify supersedes the resolved record with a fresh probe.
	ResubmitReverify ResubmitPolicy = "reverify"
)

func ParseResubmitPolicy(s string) (ResubmitPolicy, error) {
	switch p := ResubmitPolicy(s); p {
	case ResubmitReuse, ResubmitReverify:
		return p, nil
	}
	return "", fmt.Errorf("resubmit policy %q must be one of reuse, reverify", s)
}

// Verdict is the caller-facing reading of a record.
type Verdict string

const (
	VerdictPending       Verdict = "pending"
	VerdictDeliverable   Verdict = "deliverable"
	VerdictUndeliverable Verdict = "undeliverable"
	VerdictUnknown       Verdict = "unknown"
)

// VerdictFor reads a record under the given timeout policy.
func VerdictFor(r *VerificationRecord, policy TimeoutPolicy) Verdict {
	switch r.Outcome {
	case OutcomePending:
		return VerdictPending
	case OutcomeConfirmedDeliverable:
		return VerdictDeliverable
	case OutcomeConfirmedBouncing, OutcomeRejected:
		return VerdictUndeliverable
	case OutcomeTimedOut:
		switch policy {
		case TimeoutPresumeDeliverable:
			return VerdictDeliverable
		case TimeoutPresumeUndeliverable:
			return VerdictUndeliverable
		}
	}
	return VerdictUnknown
}
