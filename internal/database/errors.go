package database

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes raised by the atomic stored procedures.
const (
	CodeAccountNotFound    = "PF404"
	CodeInsufficientMargin = "PF402"
	CodePositionNotOpen    = "PF409"
)

var (
	// ErrAccountNotFound is returned when the account is missing, inactive
	// or already breached.
	ErrAccountNotFound = errors.New("account not found")
	// ErrInsufficientMargin is returned by place_market_order when the
	// requested margin exceeds the account's available margin.
	ErrInsufficientMargin = errors.New("insufficient margin")
	// ErrPositionNotOpen is returned by close_position_atomic when the
	// position has already been closed. Callers treat it as a benign race.
	ErrPositionNotOpen = errors.New("position not open")
)

// mapRPCError translates the custom SQLSTATEs raised by the stored
// procedures into sentinel errors the engine can test with errors.Is.
// Anything else is wrapped and treated as transient by the monitor loop.
func mapRPCError(op string, err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case CodeAccountNotFound:
			return fmt.Errorf("%s: %w: %s", op, ErrAccountNotFound, pgErr.Message)
		case CodeInsufficientMargin:
			return fmt.Errorf("%s: %w: %s", op, ErrInsufficientMargin, pgErr.Message)
		case CodePositionNotOpen:
			return fmt.Errorf("%s: %w: %s", op, ErrPositionNotOpen, pgErr.Message)
		}
	}

	return fmt.Errorf("%s: %w", op, err)
}
