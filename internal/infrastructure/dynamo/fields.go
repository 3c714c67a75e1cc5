package dynamo

// DynamoDB attribute and index names for the verification records table.
// Using constants prevents silent runtime bugs caused by key typos.
const (
	fieldAddress        = "address"
	fieldRecordID       = "record_id"
	fieldStage          = "stage"
	fieldOutcome        = "outcome"
	fieldProbeMessageID = "probe_message_id"
	fieldEvidenceSource = "evidence_source"
	fieldDetail         = "detail"
	fieldCreatedAt      = "created_at"
	fieldResolvedAt     = "resolved_at"
	fieldExpiresAt      = "expires_at"

	indexProbeMessageID = "probe_message_id-index"
	indexRecordID       = "record_id-index"
	indexOutcome        = "outcome-created_at-index"
)
