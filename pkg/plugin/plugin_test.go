package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangedAttributes(t *testing.T) {
	changed, err := ChangedAttributes(
		[]byte(`{"port":443,"protocol":"HTTPS","tags":{"a":"b"}}`),
		[]byte(`{"port":443,"protocol":"HTTP","old":true}`),
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"old", "protocol", "tags"}, changed)
}

func TestPlanByAttributes(t *testing.T) {
	tests := []struct {
		name     string
		desired  string
		prior    []byte
		forceNew map[string]bool
		want     Action
	}{
		{"no prior", `{"a":1}`, nil, nil, ActionCreate},
		{"unchanged", `{"a":1}`, []byte(`{"a":1}`), nil, ActionNoOp},
		{"nil forceNew replaces", `{"a":2}`, []byte(`{"a":1}`), nil, ActionReplace},
		{"mutable attr updates", `{"tags":{"x":"y"},"a":1}`, []byte(`{"a":1}`), map[string]bool{"a": true}, ActionUpdate},
		{"immutable attr replaces", `{"a":2}`, []byte(`{"a":1}`), map[string]bool{"a": true}, ActionReplace},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := PlanByAttributes(&PlanRequest{
				DesiredConfigJSON: []byte(tt.desired),
				PriorInputsJSON:   tt.prior,
			}, tt.forceNew)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.Action)
		})
	}
}

func TestPlanByAttributes_RequiresReplace(t *testing.T) {
	resp, err := PlanByAttributes(&PlanRequest{
		DesiredConfigJSON: []byte(`{"ami":"ami-2","tags":{"a":"b"}}`),
		PriorInputsJSON:   []byte(`{"ami":"ami-1","tags":{}}`),
	}, map[string]bool{"ami": true})
	require.NoError(t, err)
	assert.Equal(t, ActionReplace, resp.Action)
	assert.Equal(t, []string{"ami", "tags"}, resp.ChangedAttributes)
	assert.Equal(t, []string{"ami"}, resp.RequiresReplace)
}

func TestParseAction(t *testing.T) {
	for _, a := range []Action{ActionNoOp, ActionCreate, ActionUpdate, ActionReplace, ActionDelete} {
		got, err := ParseAction(a.String())
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}
	_, err := ParseAction("RECREATE")
	assert.Error(t, err)
}
