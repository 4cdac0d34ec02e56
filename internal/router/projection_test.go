package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/foldwatch/internal/document"
)

func decode(t *testing.T, s string) document.Value {
	t.Helper()
	v, err := document.Decode([]byte(s))
	require.NoError(t, err)
	return v
}

func TestProject(t *testing.T) {
	doc := decode(t, `{
		"info": {"cpus": 8},
		"log": ["started", "unit done"],
		"units": [
			{"id": 1, "slot": 0},
			{"id": 2, "slot": 1},
			{"id": 3, "slot": "0"},
			{"id": 4}
		],
		"groups": [
			{"slots": [{"id": 0}, {"id": 1}]},
			{"name": "no slots"},
			{"slots": [{"id": 2}]}
		]
	}`)

	tests := []struct {
		name string
		req  Request
		want string
	}{
		{"snapshot is verbatim", Request{Op: OpSnapshot}, doc.String()},
		{"queue slot 0", Request{Op: OpQueue, Slot: 0}, `[{"id":1,"slot":0},{"id":3,"slot":"0"}]`},
		{"queue slot 1", Request{Op: OpQueue, Slot: 1}, `[{"id":2,"slot":1}]`},
		{"queue unknown slot", Request{Op: OpQueue, Slot: 9}, `[]`},
		{"log", Request{Op: OpLog}, `["started","unit done"]`},
		{"info", Request{Op: OpInfo}, `{"cpus":8}`},
		{"slots flattened", Request{Op: OpSlots}, `[{"id":0},{"id":1},{"id":2}]`},
		{"write sees whole document", Request{Op: OpPause}, doc.String()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Project(tt.req, doc).String())
		})
	}
}

func TestProject_EmptyDocument(t *testing.T) {
	doc := decode(t, `{}`)

	assert.Equal(t, `[]`, Project(Request{Op: OpQueue}, doc).String())
	assert.Equal(t, `[]`, Project(Request{Op: OpLog}, doc).String())
	assert.Equal(t, `{}`, Project(Request{Op: OpInfo}, doc).String())
	assert.Equal(t, `[]`, Project(Request{Op: OpSlots}, doc).String())
	assert.Equal(t, `{}`, Project(Request{Op: OpSnapshot}, doc).String())
}

func TestSlots_GroupsAsMap(t *testing.T) {
	doc := decode(t, `{"groups":{"b":{"slots":[2]},"a":{"slots":[0,1]},"c":"junk"}}`)
	assert.Equal(t, `[0,1,2]`, Slots(doc).String())
}

func TestFilterQueue_NonList(t *testing.T) {
	assert.Equal(t, `[]`, FilterQueue(decode(t, `{"slot":0}`), 0).String())
	assert.Equal(t, `[]`, FilterQueue(document.Null(), 0).String())
}

func TestParseOp(t *testing.T) {
	for _, op := range Ops {
		got, err := ParseOp(string(op))
		require.NoError(t, err)
		assert.Equal(t, op, got)
	}
	_, err := ParseOp("reboot")
	assert.Error(t, err)

	assert.True(t, OpPause.IsWrite())
	assert.True(t, OpPushConfig.IsWrite())
	assert.False(t, OpQueue.IsWrite())
}
