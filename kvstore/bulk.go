package kvstore

import "fmt"

// OpKind tags the kind of a bulk operation.
type OpKind int

// Constants for the supported bulk operation kinds.
const (
	// OpSet inserts or overwrites a key.
	OpSet OpKind = iota + 1
	// OpRemove deletes a key.
	OpRemove
)

// Operation is one entry of a bulk batch.
type Operation struct {
	Kind  OpKind
	Key   string
	Value string // used by OpSet only
}

// SetOp builds a bulk upsert operation.
func SetOp(key, value string) Operation {
	return Operation{Kind: OpSet, Key: key, Value: value}
}

// RemoveOp builds a bulk delete operation.
func RemoveOp(key string) Operation {
	return Operation{Kind: OpRemove, Key: key}
}

// partitionOps splits a batch into its upsert set and its delete set,
// preserving input order within each. An unrecognized kind aborts the whole
// batch before any statement is issued.
func partitionOps(ops []Operation) (upserts []Operation, removals []string, err error) {
	for _, op := range ops {
		switch op.Kind {
		case OpSet:
			upserts = append(upserts, op)
		case OpRemove:
			removals = append(removals, op.Key)
		default:
			return nil, nil, fmt.Errorf("%w: kind %d", ErrUnknownBulkOp, op.Kind)
		}
	}
	return upserts, removals, nil
}
