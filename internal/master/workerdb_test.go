package master

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerDbSchema(t *testing.T) {
	err := workerDbSchema().Validate()
	assert.NoError(t, err)
}

func TestWorkerDbInsertGetDelete(t *testing.T) {
	db, err := NewWorkerDb()
	require.NoError(t, err)
	workers := testWorkers()

	txn := db.WriteTxn()
	for _, worker := range workers {
		require.NoError(t, db.Insert(txn, worker))
	}

	worker, err := db.GetById(txn, workers[0].WorkerId)
	assert.NoError(t, err)
	assert.Equal(t, workers[0], worker)

	err = db.Delete(txn, workers[0].WorkerId)
	assert.NoError(t, err)

	worker, err = db.GetById(txn, workers[0].WorkerId)
	assert.NoError(t, err)
	assert.Nil(t, worker)

	// Deleting an id that is already gone is not an error.
	err = db.Delete(txn, workers[0].WorkerId)
	assert.NoError(t, err)
}

func TestWorkerDbIndexQueries(t *testing.T) {
	db, err := NewWorkerDb()
	require.NoError(t, err)
	workers := testWorkers()

	txn := db.WriteTxn()
	for _, worker := range workers {
		require.NoError(t, db.Insert(txn, worker))
	}

	byJob, err := db.ByJob(txn, "j1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []*Worker{workers[0], workers[1]}, byJob)

	byNode, err := db.ByNode(txn, "a")
	require.NoError(t, err)
	assert.ElementsMatch(t, []*Worker{workers[0], workers[2]}, byNode)

	none, err := db.ByJob(txn, "no-such-job")
	require.NoError(t, err)
	assert.Empty(t, none)

	count, err := db.Count(txn)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func testWorkers() []*Worker {
	return []*Worker{
		{WorkerId: "w1", JobName: "j1", Node: "a", Mode: "map", Partition: 0},
		{WorkerId: "w2", JobName: "j1", Node: "b", Mode: "map", Partition: 1},
		{WorkerId: "w3", JobName: "j2", Node: "a", Mode: "reduce", Partition: 0},
	}
}
