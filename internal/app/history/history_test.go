package history_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/postsched/internal/app/history"
	"github.com/slok/postsched/internal/model"
	"github.com/slok/postsched/internal/storage/storagemock"
)

func entriesFixture() []model.LogEntry {
	return []model.LogEntry{
		{TaskID: "t1", Owner: "alice", Outcome: model.UploadOutcome{Success: true}},
		{TaskID: "t2", Owner: "bob", Outcome: model.FailedOutcome(model.ErrorKindRemote, 500, "boom")},
		{Raw: "garbage"},
		{TaskID: "t3", Owner: "alice", Outcome: model.FailedOutcome(model.ErrorKindLocal, 0, "timeout")},
	}
}

func TestNewService(t *testing.T) {
	_, err := history.NewService(history.ServiceConfig{})
	assert.Error(t, err)

	svc, err := history.NewService(history.ServiceConfig{Results: &storagemock.MockResultReader{}})
	assert.NoError(t, err)
	assert.NotNil(t, svc)
}

func TestService_Run(t *testing.T) {
	tests := map[string]struct {
		mock   func(m *storagemock.MockResultReader)
		req    history.Request
		expIDs []string
		expErr bool
	}{
		"no filter should return everything including raw records": {
			mock: func(m *storagemock.MockResultReader) {
				m.On("ListResults", mock.Anything).Once().Return(entriesFixture(), nil)
			},
			expIDs: []string{"t1", "t2", "", "t3"},
		},
		"owner filter should drop other owners and raw records": {
			mock: func(m *storagemock.MockResultReader) {
				m.On("ListResults", mock.Anything).Once().Return(entriesFixture(), nil)
			},
			req:    history.Request{Owner: "alice"},
			expIDs: []string{"t1", "t3"},
		},
		"failed only filter should keep failures": {
			mock: func(m *storagemock.MockResultReader) {
				m.On("ListResults", mock.Anything).Once().Return(entriesFixture(), nil)
			},
			req:    history.Request{FailedOnly: true},
			expIDs: []string{"t2", "t3"},
		},
		"last should keep the most recent ones": {
			mock: func(m *storagemock.MockResultReader) {
				m.On("ListResults", mock.Anything).Once().Return(entriesFixture(), nil)
			},
			req:    history.Request{Last: 2},
			expIDs: []string{"", "t3"},
		},
		"negative last should fail": {
			mock:   func(m *storagemock.MockResultReader) {},
			req:    history.Request{Last: -1},
			expErr: true,
		},
		"reader errors should fail": {
			mock: func(m *storagemock.MockResultReader) {
				m.On("ListResults", mock.Anything).Once().Return(nil, errors.New("boom"))
			},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			m := storagemock.NewMockResultReader(t)
			test.mock(m)

			svc, err := history.NewService(history.ServiceConfig{Results: m})
			require.NoError(err)

			entries, err := svc.Run(context.Background(), test.req)
			if test.expErr {
				assert.Error(err)
				return
			}
			require.NoError(err)

			ids := make([]string, 0, len(entries))
			for _, e := range entries {
				ids = append(ids, e.TaskID)
			}
			assert.Equal(test.expIDs, ids)
		})
	}
}
