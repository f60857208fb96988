package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dicomerrors "github.com/caio-sobreiro/dicomul/errors"
	"github.com/caio-sobreiro/dicomul/types"
)

// mockStore implements interfaces.InstanceStore
type mockStore struct {
	stored []storedInstance
	err    error
}

type storedInstance struct {
	sopClassUID    string
	sopInstanceUID string
	transferSyntax string
	dataset        []byte
}

func (m *mockStore) StoreInstance(ctx context.Context, sopClassUID, sopInstanceUID, transferSyntax string, dataset []byte) error {
	if m.err != nil {
		return m.err
	}
	m.stored = append(m.stored, storedInstance{sopClassUID, sopInstanceUID, transferSyntax, dataset})
	return nil
}

func storeRequest(dataset []byte) *types.Request {
	return &types.Request{
		ContextID:      3,
		AbstractSyntax: types.CTImageStorage,
		TransferSyntax: types.ExplicitVRLittleEndian,
		Message: &types.Message{
			CommandField:           types.CStoreRQ,
			MessageID:              21,
			AffectedSOPClassUID:    types.CTImageStorage,
			AffectedSOPInstanceUID: "1.2.826.0.1.3680043.2.1125.7",
			CommandDataSetType:     types.DataSetPresent,
		},
		DataSet: dataset,
	}
}

func TestStoreService_Success(t *testing.T) {
	store := &mockStore{}
	service := NewStoreService(store, quietLogger())
	responder := &mockResponder{}

	outcome := service.HandleCommand(context.Background(), storeRequest([]byte("dataset")), responder)
	assert.Equal(t, types.Continue, outcome.Kind)

	require.Len(t, store.stored, 1)
	assert.Equal(t, storedInstance{
		sopClassUID:    types.CTImageStorage,
		sopInstanceUID: "1.2.826.0.1.3680043.2.1125.7",
		transferSyntax: types.ExplicitVRLittleEndian,
		dataset:        []byte("dataset"),
	}, store.stored[0])

	require.Len(t, responder.responses, 1)
	rsp := responder.responses[0]
	assert.Equal(t, uint16(types.CStoreRSP), rsp.CommandField)
	assert.Equal(t, uint16(21), rsp.MessageIDBeingRespondedTo)
	assert.Equal(t, uint16(types.StatusSuccess), rsp.Status)
	assert.Equal(t, "1.2.826.0.1.3680043.2.1125.7", rsp.AffectedSOPInstanceUID)
	assert.Nil(t, responder.datasets[0])
}

func TestStoreService_FailureStatuses(t *testing.T) {
	tests := []struct {
		name       string
		storeErr   error
		mutate     func(req *types.Request)
		wantStatus uint16
	}{
		{
			name:       "Out of resources",
			storeErr:   fmt.Errorf("write instance: %w", dicomerrors.ErrOutOfResources),
			wantStatus: types.StatusOutOfResources,
		},
		{
			name:       "Generic storage failure",
			storeErr:   errors.New("permission denied"),
			wantStatus: types.StatusFailure,
		},
		{
			name:       "Missing data set",
			mutate:     func(req *types.Request) { req.DataSet = nil },
			wantStatus: types.StatusFailure,
		},
		{
			name:       "Missing instance UID",
			mutate:     func(req *types.Request) { req.Message.AffectedSOPInstanceUID = "" },
			wantStatus: types.StatusFailure,
		},
		{
			name:       "SOP class differs from the context",
			mutate:     func(req *types.Request) { req.Message.AffectedSOPClassUID = types.MRImageStorage },
			wantStatus: types.StatusSOPClassNotSupp,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockStore{err: tt.storeErr}
			service := NewStoreService(store, quietLogger())
			responder := &mockResponder{}

			req := storeRequest([]byte{0x01, 0x02})
			if tt.mutate != nil {
				tt.mutate(req)
			}

			outcome := service.HandleCommand(context.Background(), req, responder)
			assert.Equal(t, types.Continue, outcome.Kind, "storage failures keep the association open")
			assert.Empty(t, store.stored)

			require.Len(t, responder.responses, 1)
			assert.Equal(t, tt.wantStatus, responder.responses[0].Status)
			assert.NotEmpty(t, responder.responses[0].ErrorComment)
		})
	}
}

func TestStoreService_SendFailure(t *testing.T) {
	service := NewStoreService(&mockStore{}, quietLogger())
	sendErr := errors.New("broken pipe")

	outcome := service.HandleCommand(context.Background(), storeRequest([]byte("x")), &mockResponder{sendErr: sendErr})
	assert.Equal(t, types.Fail, outcome.Kind)
	assert.ErrorIs(t, outcome.Reason, sendErr)
}

func TestErrorComment(t *testing.T) {
	assert.Equal(t, "short", errorComment(errors.New("short")))
	assert.Len(t, errorComment(errors.New(strings.Repeat("x", 100))), 64)
}
