package sync

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/darasahq/darasa-sync/internal/types"
)

// Field length caps. Client-generated identifiers are unbounded on the
// wire, so cap them before they reach storage.
const (
	maxClientOperationIDLen = 128
	maxEntityTypeLen        = 64
	maxEntityIDLen          = 128
)

// ValidateOperation checks a push operation before it is persisted.
// A non-nil return is always a *ValidationError.
func ValidateOperation(op PushOperation) error {
	if err := validateIdentifier("client_operation_id", op.ClientOperationID, maxClientOperationIDLen); err != nil {
		return err
	}
	if err := validateIdentifier("entity_type", op.EntityType, maxEntityTypeLen); err != nil {
		return err
	}
	if op.EntityID != "" {
		if err := validateIdentifier("entity_id", op.EntityID, maxEntityIDLen); err != nil {
			return err
		}
	}

	switch op.Operation {
	case types.OperationCreate, types.OperationUpdate, types.OperationDelete:
	default:
		return &ValidationError{
			Field: "operation_type",
			Message: fmt.Sprintf("must be one of: %s, %s, %s",
				types.OperationCreate, types.OperationUpdate, types.OperationDelete),
		}
	}

	if op.ClientVersion < 0 {
		return &ValidationError{Field: "client_version", Message: "must be >= 0"}
	}
	if op.ClientTimestamp.IsZero() {
		return &ValidationError{Field: "client_timestamp", Message: "is required"}
	}

	if len(op.Payload) > 0 && !json.Valid(op.Payload) {
		return &ValidationError{Field: "payload", Message: "must be valid JSON"}
	}
	if len(op.Payload) == 0 && op.Operation != types.OperationDelete {
		return &ValidationError{Field: "payload", Message: "is required for " + string(op.Operation)}
	}

	return nil
}

// ValidateResolution checks a resolve request before it is applied.
// A non-nil return is always a *ValidationError.
func ValidateResolution(req ResolveRequest) error {
	if err := validateIdentifier("conflict_id", req.ConflictID, maxClientOperationIDLen); err != nil {
		return err
	}

	switch req.Resolution {
	case types.ResolutionAcceptedClient, types.ResolutionAcceptedServer, types.ResolutionMerged:
	default:
		return &ValidationError{
			Field: "resolution",
			Message: fmt.Sprintf("must be one of: %s, %s, %s",
				types.ResolutionAcceptedClient, types.ResolutionAcceptedServer, types.ResolutionMerged),
		}
	}

	if req.Resolution == types.ResolutionMerged {
		if len(req.MergedData) == 0 {
			return &ValidationError{Field: "merged_data", Message: "is required for merged resolution"}
		}
		if !json.Valid(req.MergedData) {
			return &ValidationError{Field: "merged_data", Message: "must be valid JSON"}
		}
	}

	return nil
}

// validateIdentifier applies the common checks for string identifiers:
// required, length-capped, no null bytes.
func validateIdentifier(field, value string, max int) *ValidationError {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Message: "is required"}
	}
	if len(value) > max {
		return &ValidationError{Field: field, Message: fmt.Sprintf("exceeds maximum length of %d", max)}
	}
	if strings.Contains(value, "\x00") {
		return &ValidationError{Field: field, Message: "must not contain null bytes"}
	}
	return nil
}
