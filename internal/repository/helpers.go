package repository

import (
	"database/sql"
	"errors"
)

// HandleNotFound converts sql.ErrNoRows into a nil result without error.
// Find* lookups and conditional UPDATE ... RETURNING statements both use it:
// a missing row means "not found" or "lost the race", never a failure.
//
//	var account model.Account
//	err := r.db.GetContext(ctx, &account, query, args...)
//	return HandleNotFound(&account, err)
func HandleNotFound[T any](result *T, err error) (*T, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}
