// Package issuepilot provides a minimal public API for building custom
// orchestration on top of pilot's lifecycle state.
//
// Most integrations should run the pilot binary and talk to its webhook
// server. This package exports only the essential types and functions for
// Go programs that want to read or drive lifecycle state directly through
// the storage layer.
package issuepilot

import (
	"context"

	"github.com/issuepilot/issuepilot/internal/storage"
	"github.com/issuepilot/issuepilot/internal/storage/factory"
	"github.com/issuepilot/issuepilot/internal/types"
)

// Core types for working with tracked issues
type (
	IssueKey   = types.IssueKey
	IssueState = types.IssueState
	Transition = types.Transition
	Status     = types.Status
)

// Status constants
const (
	StatusNew          = types.StatusNew
	StatusAnalyzing    = types.StatusAnalyzing
	StatusAnalyzed     = types.StatusAnalyzed
	StatusApproved     = types.StatusApproved
	StatusInProgress   = types.StatusInProgress
	StatusBlocked      = types.StatusBlocked
	StatusReviewNeeded = types.StatusReviewNeeded
	StatusCompleted    = types.StatusCompleted
	StatusPRCreated    = types.StatusPRCreated
	StatusMerged       = types.StatusMerged
	StatusClosed       = types.StatusClosed
	StatusRejected     = types.StatusRejected
)

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from, to Status) bool {
	return types.CanTransition(from, to)
}

// Store provides the minimal interface for external orchestration.
type Store = storage.Store

// Open opens a lifecycle state store. conn is "memory", a sqlite path, or
// a mysql:// / dolt:// DSN.
func Open(ctx context.Context, conn string) (Store, error) {
	return factory.Open(ctx, conn)
}
