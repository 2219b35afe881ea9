package repository

import (
	"database/sql"
	"errors"
)

// HandleNotFound converts sql.ErrNoRows into a nil result without error, so
// callers can treat a missing row as "absent" rather than as a failure.
//
//	var call model.CallSession
//	err := r.db.GetContext(ctx, &call, query, callID)
//	return HandleNotFound(&call, err)
func HandleNotFound[T any](result *T, err error) (*T, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}
