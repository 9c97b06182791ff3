package sync

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/darasahq/darasa-sync/internal/types"
)

func validOp() PushOperation {
	return PushOperation{
		ClientOperationID: "op-1",
		EntityType:        "note",
		EntityID:          "n1",
		Operation:         types.OperationUpdate,
		Payload:           json.RawMessage(`{"title":"hello"}`),
		ClientVersion:     1,
		ClientTimestamp:   time.Now().UTC(),
	}
}

func TestValidateOperation_Valid(t *testing.T) {
	if err := ValidateOperation(validOp()); err != nil {
		t.Fatalf("Expected valid operation, got %v", err)
	}
}

func TestValidateOperation_DeleteWithoutPayload(t *testing.T) {
	op := validOp()
	op.Operation = types.OperationDelete
	op.Payload = nil

	if err := ValidateOperation(op); err != nil {
		t.Fatalf("DELETE should not require a payload, got %v", err)
	}
}

func TestValidateOperation_Rejections(t *testing.T) {
	cases := []struct {
		name      string
		mutate    func(*PushOperation)
		wantField string
	}{
		{"missing client op id", func(op *PushOperation) { op.ClientOperationID = "" }, "client_operation_id"},
		{"whitespace client op id", func(op *PushOperation) { op.ClientOperationID = "   " }, "client_operation_id"},
		{"oversized client op id", func(op *PushOperation) { op.ClientOperationID = strings.Repeat("x", 129) }, "client_operation_id"},
		{"null byte in client op id", func(op *PushOperation) { op.ClientOperationID = "op\x001" }, "client_operation_id"},
		{"missing entity type", func(op *PushOperation) { op.EntityType = "" }, "entity_type"},
		{"oversized entity id", func(op *PushOperation) { op.EntityID = strings.Repeat("x", 129) }, "entity_id"},
		{"unknown operation", func(op *PushOperation) { op.Operation = "UPSERT" }, "operation_type"},
		{"negative version", func(op *PushOperation) { op.ClientVersion = -1 }, "client_version"},
		{"zero timestamp", func(op *PushOperation) { op.ClientTimestamp = time.Time{} }, "client_timestamp"},
		{"invalid payload JSON", func(op *PushOperation) { op.Payload = json.RawMessage(`{broken`) }, "payload"},
		{"missing payload on update", func(op *PushOperation) { op.Payload = nil }, "payload"},
		{"missing payload on create", func(op *PushOperation) {
			op.Operation = types.OperationCreate
			op.EntityID = ""
			op.Payload = nil
		}, "payload"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			op := validOp()
			tc.mutate(&op)

			err := ValidateOperation(op)
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !IsValidation(err) {
				t.Fatalf("Expected ValidationError, got %T", err)
			}
			if !strings.HasPrefix(err.Error(), tc.wantField) {
				t.Errorf("Expected error on %s, got %q", tc.wantField, err.Error())
			}
		})
	}
}

func TestValidateResolution_Valid(t *testing.T) {
	cases := []ResolveRequest{
		{ConflictID: "c1", Resolution: types.ResolutionAcceptedClient},
		{ConflictID: "c1", Resolution: types.ResolutionAcceptedServer},
		{ConflictID: "c1", Resolution: types.ResolutionMerged, MergedData: json.RawMessage(`{"score":90}`)},
	}
	for _, req := range cases {
		if err := ValidateResolution(req); err != nil {
			t.Errorf("Expected valid resolution %s, got %v", req.Resolution, err)
		}
	}
}

func TestValidateResolution_Rejections(t *testing.T) {
	cases := []struct {
		name      string
		req       ResolveRequest
		wantField string
	}{
		{"missing conflict id", ResolveRequest{Resolution: types.ResolutionMerged}, "conflict_id"},
		{"pending as target", ResolveRequest{ConflictID: "c1", Resolution: types.ResolutionPending}, "resolution"},
		{"unknown kind", ResolveRequest{ConflictID: "c1", Resolution: "discard"}, "resolution"},
		{"merged without data", ResolveRequest{ConflictID: "c1", Resolution: types.ResolutionMerged}, "merged_data"},
		{"merged with invalid JSON", ResolveRequest{
			ConflictID: "c1", Resolution: types.ResolutionMerged, MergedData: json.RawMessage(`nope{`),
		}, "merged_data"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateResolution(tc.req)
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !strings.HasPrefix(err.Error(), tc.wantField) {
				t.Errorf("Expected error on %s, got %q", tc.wantField, err.Error())
			}
		})
	}
}
