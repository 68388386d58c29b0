package parallel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitingTaskList(t *testing.T) {
	a := &Task{ID: 1, WaitForTaskID: NoParent}
	b := &Task{ID: 2, WaitForTaskID: 1}
	c := &Task{ID: 3, WaitForTaskID: 1}

	l := NewWaitingTaskList()
	l.Add(a)
	l.Add(b)
	l.Add(c)

	assert.Equal(t, []*Task{a}, l.NextTasks(NoParent))
	assert.Equal(t, []*Task{b, c}, l.NextTasks(a.ID))
	assert.Empty(t, l.NextTasks(b.ID))
	assert.Equal(t, 3, l.Len())

	// NextTasks does not remove.
	assert.Equal(t, []*Task{b, c}, l.NextTasks(a.ID))
}

func TestRunnerAddAssignsIDs(t *testing.T) {
	r := NewRunner(2)
	a := r.Add(NoParent, &FuncCommand{})
	b := r.Add(a, &FuncCommand{})
	c := r.Add(a, &FuncCommand{})

	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
	assert.Equal(t, 3, c)

	next := r.NextTasks(a)
	require.Len(t, next, 2)
	assert.Equal(t, b, next[0].ID)
	assert.Equal(t, c, next[1].ID)
}
