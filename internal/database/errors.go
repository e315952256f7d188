package database

import "errors"

var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrVersionConflict   = errors.New("room version conflict")
	ErrInvalidRoomSpec   = errors.New("invalid room spec")
	ErrInsufficientFunds = errors.New("insufficient funds")
)
