package pending

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// applied records the keys of every successful commit.
type applied struct {
	keys [][]string
	err  error
}

func (a *applied) apply(keys []string) error {
	if a.err != nil {
		return a.err
	}
	a.keys = append(a.keys, keys)
	return nil
}

func TestQueue_CommitSelectedOnly(t *testing.T) {
	q := New()
	q.Add("10.0.0.2")
	q.Add("10.0.0.1")
	q.Add("10.0.0.3")

	a := &applied{}
	require.NoError(t, q.Commit([]string{"10.0.0.3", "10.0.0.1", "10.0.0.1", "10.0.0.9"}, a.apply))
	assert.Equal(t, [][]string{{"10.0.0.1", "10.0.0.3"}}, a.keys)
	assert.Equal(t, 1, q.Len())

	require.NoError(t, q.Commit(nil, a.apply))
	assert.Equal(t, []string{"10.0.0.2"}, a.keys[1])
	assert.Equal(t, 0, q.Len())
}

func TestQueue_NothingSelected(t *testing.T) {
	q := New()
	q.Add("10.0.0.1")

	called := false
	require.NoError(t, q.Commit([]string{"10.0.0.2"}, func([]string) error {
		called = true
		return nil
	}))
	assert.False(t, called)
	assert.Equal(t, 1, q.Len())
}

func TestQueue_FailedBatchIsNotAppliedLater(t *testing.T) {
	q := New()
	q.Add("10.0.0.1")
	q.Add("10.0.0.2")

	failing := &applied{err: errors.New("disk full")}
	assert.Error(t, q.Commit([]string{"10.0.0.1"}, failing.apply))

	a := &applied{}
	require.NoError(t, q.Commit(nil, a.apply))
	assert.Equal(t, [][]string{{"10.0.0.2"}}, a.keys)
}

func TestQueue_SharedKeySurvivesOtherBatchFailure(t *testing.T) {
	q := New()
	q.Add("10.0.0.1") // batch A
	q.Add("10.0.0.1") // batch B

	failing := &applied{err: errors.New("disk full")}
	assert.Error(t, q.Commit([]string{"10.0.0.1"}, failing.apply))
	assert.Equal(t, 1, q.Len())

	a := &applied{}
	require.NoError(t, q.Commit([]string{"10.0.0.1"}, a.apply))
	assert.Equal(t, [][]string{{"10.0.0.1"}}, a.keys)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_DuplicatesInFailedBatch(t *testing.T) {
	q := New()
	q.Add("10.0.0.1")
	q.Add("10.0.0.1")

	failing := &applied{err: errors.New("disk full")}
	assert.Error(t, q.Commit([]string{"10.0.0.1", "10.0.0.1"}, failing.apply))
	assert.Equal(t, 0, q.Len())
}

func TestQueue_FailedCommitAllKeepsQueue(t *testing.T) {
	q := New()
	q.Add("10.0.0.1")

	failing := &applied{err: errors.New("disk full")}
	assert.Error(t, q.Commit(nil, failing.apply))
	assert.Equal(t, 1, q.Len())
}

func TestQueue_Forget(t *testing.T) {
	q := New()
	q.Add("10.0.0.1")
	q.Add("10.0.0.1")
	q.Forget("10.0.0.1")

	assert.Equal(t, 0, q.Len())
}
