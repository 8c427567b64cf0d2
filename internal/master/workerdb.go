package master

import (
	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"
)

const (
	workersTable = "workers"
	idIndex      = "id"      // lookup by worker id
	jobIndex     = "jobname" // lookup all workers of a job
	nodeIndex    = "node"    // lookup all workers on a node
)

// Worker is the registry's record of one live worker process. Created
// exactly when a task is dispatched, deleted exactly when the worker's
// termination is reported.
type Worker struct {
	// Unique id of the worker process.
	WorkerId string
	// Job this worker's task belongs to.
	JobName string
	// Node the worker runs on.
	Node string
	// Task kind, e.g. "map" or "reduce".
	Mode string
	// Partition index of the task.
	Partition int
	// Coordinator handle the outcome goes to.
	Results ResultSink
}

// WorkerDb stores the live-worker table. It is implemented on top of
// https://github.com/hashicorp/go-memdb so that queries by job and by node
// are index lookups rather than scans.
type WorkerDb struct {
	// In-memory database storing *Worker.
	Db *memdb.MemDB
}

func NewWorkerDb() (*WorkerDb, error) {
	db, err := memdb.NewMemDB(workerDbSchema())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &WorkerDb{Db: db}, nil
}

// Insert adds a worker record. The record must not be modified afterwards.
func (workerDb *WorkerDb) Insert(txn *memdb.Txn, worker *Worker) error {
	if err := txn.Insert(workersTable, worker); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// GetById returns the worker with the given id or nil if no such worker
// exists.
func (workerDb *WorkerDb) GetById(txn *memdb.Txn, id string) (*Worker, error) {
	iter, err := txn.Get(workersTable, idIndex, id)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	result := iter.Next()
	if result == nil {
		return nil, nil
	}
	return result.(*Worker), nil
}

// ByJob returns all live workers belonging to the given job.
func (workerDb *WorkerDb) ByJob(txn *memdb.Txn, jobName string) ([]*Worker, error) {
	return workerDb.collect(txn, jobIndex, jobName)
}

// ByNode returns all live workers running on the given node.
func (workerDb *WorkerDb) ByNode(txn *memdb.Txn, node string) ([]*Worker, error) {
	return workerDb.collect(txn, nodeIndex, node)
}

// GetAll returns every live worker.
func (workerDb *WorkerDb) GetAll(txn *memdb.Txn) ([]*Worker, error) {
	iter, err := txn.Get(workersTable, idIndex)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	result := make([]*Worker, 0)
	for obj := iter.Next(); obj != nil; obj = iter.Next() {
		result = append(result, obj.(*Worker))
	}
	return result, nil
}

// Count returns the number of live workers.
func (workerDb *WorkerDb) Count(txn *memdb.Txn) (int, error) {
	workers, err := workerDb.GetAll(txn)
	if err != nil {
		return 0, err
	}
	return len(workers), nil
}

// Delete removes the worker with the given id. Unknown ids are ignored.
func (workerDb *WorkerDb) Delete(txn *memdb.Txn, id string) error {
	err := txn.Delete(workersTable, &Worker{WorkerId: id})
	if err != nil {
		// memdb's error here isn't nice for parsing, so check existence
		// explicitly before deciding it's a real failure.
		worker, getErr := workerDb.GetById(txn, id)
		if getErr != nil {
			return getErr
		}
		if worker != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

func (workerDb *WorkerDb) collect(txn *memdb.Txn, index string, value string) ([]*Worker, error) {
	iter, err := txn.Get(workersTable, index, value)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	result := make([]*Worker, 0)
	for obj := iter.Next(); obj != nil; obj = iter.Next() {
		result = append(result, obj.(*Worker))
	}
	return result, nil
}

// ReadTxn returns a read-only transaction.
// Multiple read-only transactions can access the db concurrently.
func (workerDb *WorkerDb) ReadTxn() *memdb.Txn {
	return workerDb.Db.Txn(false)
}

// WriteTxn returns a writeable transaction.
// Only a single write transaction may access the db at any given time.
func (workerDb *WorkerDb) WriteTxn() *memdb.Txn {
	return workerDb.Db.Txn(true)
}

// workerDbSchema creates the database schema: a single workers table with a
// unique id index plus jobname and node indexes for the fan-out queries.
func workerDbSchema() *memdb.DBSchema {
	indexes := map[string]*memdb.IndexSchema{
		idIndex: {
			Name:    idIndex,
			Unique:  true,
			Indexer: &memdb.StringFieldIndex{Field: "WorkerId"},
		},
		jobIndex: {
			Name:    jobIndex,
			Unique:  false,
			Indexer: &memdb.StringFieldIndex{Field: "JobName"},
		},
		nodeIndex: {
			Name:    nodeIndex,
			Unique:  false,
			Indexer: &memdb.StringFieldIndex{Field: "Node"},
		},
	}
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			workersTable: {
				Name:    workersTable,
				Indexes: indexes,
			},
		},
	}
}
