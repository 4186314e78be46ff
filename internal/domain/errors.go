package domain

import "errors"

var (
	// ErrConfig indicates a required setting is missing.
	ErrConfig = errors.New("configuration error")

	// ErrInputNotFound indicates the ingestion input file does not exist.
	ErrInputNotFound = errors.New("input file not found")

	// ErrEmptyInput indicates the input produced no chunks.
	ErrEmptyInput = errors.New("input produced no chunks")

	// ErrDimensionMismatch indicates a vector does not match the index dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrAgentUnavailable indicates the session has no agent.
	ErrAgentUnavailable = errors.New("agent unavailable")

	// ErrRouterUnavailable indicates the intent router failed to initialize.
	ErrRouterUnavailable = errors.New("intent router unavailable")

	// ErrMaxSteps indicates the agent exhausted its reasoning steps without answering.
	ErrMaxSteps = errors.New("agent reached max steps")
)
