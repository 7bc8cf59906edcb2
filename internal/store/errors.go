package store

import "errors"

var (
	ErrTicketNotFound    = errors.New("ticket not found")
	ErrInvalidTransition = errors.New("invalid ticket state")
	ErrInvalidCategory   = errors.New("invalid category")
	ErrCounterNotFound   = errors.New("counter not found")
	ErrCounterBusy       = errors.New("counter already serving a ticket")
	ErrCounterIdle       = errors.New("counter has no current ticket")
	ErrNoEligibleTicket  = errors.New("no eligible ticket")
	ErrLastCounter       = errors.New("at least one counter is required")
)
