package entitystore

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
)

// Versioned pairs a decoded row with the ETag it was read at.
type Versioned[T any] struct {
	Value T
	ETag  ETag
}

func GetAs[T any](ctx context.Context, s Store, table, partitionKey, rowKey string) (T, ETag, error) {
	var v T
	e, err := s.Get(ctx, table, partitionKey, rowKey)
	if err != nil {
		return v, "", err
	}
	v, err = Decode[T](table, e)
	if err != nil {
		return v, "", err
	}
	return v, e.ETag, nil
}

// Decode reads the JSON document of e into a T. Fields T does not model are
// dropped from the result, so write the original Data back when they must
// survive.
func Decode[T any](table string, e Entity) (T, error) {
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return v, fmt.Errorf("entitystore: decode %s/%s/%s: %w", table, e.PartitionKey, e.RowKey, err)
	}
	return v, nil
}

func PutAs[T any](ctx context.Context, s Store, table, partitionKey, rowKey string, v T, expected ETag) (ETag, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("entitystore: encode %s/%s/%s: %w", table, partitionKey, rowKey, err)
	}
	return s.Put(ctx, table, Entity{PartitionKey: partitionKey, RowKey: rowKey, Data: data}, expected)
}

// ScanAs decodes every matching row. A row that fails to decode is yielded
// as an error and the scan continues.
func ScanAs[T any](ctx context.Context, s Store, table string, match Predicate) iter.Seq2[Versioned[T], error] {
	return func(yield func(Versioned[T], error) bool) {
		for e, err := range s.Scan(ctx, table, match) {
			if err != nil {
				if !yield(Versioned[T]{}, err) {
					return
				}
				continue
			}
			var v T
			if err := json.Unmarshal(e.Data, &v); err != nil {
				err = fmt.Errorf("entitystore: decode %s/%s/%s: %w", table, e.PartitionKey, e.RowKey, err)
				if !yield(Versioned[T]{}, err) {
					return
				}
				continue
			}
			if !yield(Versioned[T]{Value: v, ETag: e.ETag}, nil) {
				return
			}
		}
	}
}
