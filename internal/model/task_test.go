package model_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/slok/postsched/internal/model"
)

func TestTaskStatusCanTransitionTo(t *testing.T) {
	all := []model.TaskStatus{
		model.TaskStatusPending,
		model.TaskStatusFiring,
		model.TaskStatusSucceeded,
		model.TaskStatusFailed,
		model.TaskStatusCancelled,
	}

	allowed := map[model.TaskStatus][]model.TaskStatus{
		model.TaskStatusPending: {model.TaskStatusFiring, model.TaskStatusCancelled},
		model.TaskStatusFiring:  {model.TaskStatusSucceeded, model.TaskStatusFailed},
	}

	for _, from := range all {
		for _, to := range all {
			exp := false
			for _, a := range allowed[from] {
				if a == to {
					exp = true
				}
			}
			assert.Equal(t, exp, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestTaskStatusIsTerminal(t *testing.T) {
	assert.False(t, model.TaskStatusPending.IsTerminal())
	assert.False(t, model.TaskStatusFiring.IsTerminal())
	assert.True(t, model.TaskStatusSucceeded.IsTerminal())
	assert.True(t, model.TaskStatusFailed.IsTerminal())
	assert.True(t, model.TaskStatusCancelled.IsTerminal())
}

func TestTaskDescriptorValidate(t *testing.T) {
	tests := map[string]struct {
		desc   model.TaskDescriptor
		expErr bool
	}{
		"A descriptor with media and owner should be valid.": {
			desc: model.TaskDescriptor{MediaRef: "/videos/a.mp4", Owner: "alice"},
		},
		"A descriptor without caption or platforms should be valid.": {
			desc: model.TaskDescriptor{MediaRef: "a.mp4", Owner: "alice", Caption: ""},
		},
		"A descriptor without media should fail.": {
			desc:   model.TaskDescriptor{Owner: "alice"},
			expErr: true,
		},
		"A descriptor without owner should fail.": {
			desc:   model.TaskDescriptor{MediaRef: "a.mp4"},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			err := test.desc.Validate()
			if test.expErr {
				assert.True(t, errors.Is(err, model.ErrInvalidTask))
				assert.True(t, errors.Is(err, model.ErrNotValid))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTaskCopyIsDeep(t *testing.T) {
	orig := model.Task{
		ID:        "t1",
		Platforms: []string{"tiktok"},
		LastError: &model.UploadError{Kind: model.ErrorKindLocal, Message: "boom"},
	}

	c := orig.Copy()
	c.Platforms[0] = "instagram"
	c.LastError.Message = "changed"

	assert.Equal(t, "tiktok", orig.Platforms[0])
	assert.Equal(t, "boom", orig.LastError.Message)
}

func TestUploadOutcomeErr(t *testing.T) {
	assert.Nil(t, model.UploadOutcome{Success: true}.Err())

	o := model.FailedOutcome(model.ErrorKindRemote, 500, "server said %q", "no")
	err := o.Err()
	if assert.NotNil(t, err) {
		assert.Equal(t, model.ErrorKindRemote, err.Kind)
		assert.Equal(t, `remote_error (status 500): server said "no"`, err.Error())
	}
}
