// Package logfields holds canonical slog attribute keys so every package logs the
// same names for organizations, repositories, branches and runs.
package logfields

import (
	"log/slog"
	"time"
)

const (
	KeyRunID        = "run_id"
	KeyOrganization = "organization"
	KeyRepo         = "repository"
	KeyBranch       = "branch"
	KeyCommit       = "commit"
	KeyKind         = "kind"
	KeyStatus       = "status"
	KeyAction       = "action"
	KeyPath         = "path"
	KeyURL          = "url"
	KeyAttempt      = "attempt"
	KeyDurationMS   = "duration_ms"
	KeyCount        = "count"
	KeyError        = "error"
)

func RunID(id string) slog.Attr        { return slog.String(KeyRunID, id) }
func Organization(o string) slog.Attr   { return slog.String(KeyOrganization, o) }
func Repository(r string) slog.Attr     { return slog.String(KeyRepo, r) }
func Branch(b string) slog.Attr         { return slog.String(KeyBranch, b) }
func Kind(k string) slog.Attr           { return slog.String(KeyKind, k) }
func Status(s string) slog.Attr         { return slog.String(KeyStatus, s) }
func Action(a string) slog.Attr         { return slog.String(KeyAction, a) }
func Path(p string) slog.Attr           { return slog.String(KeyPath, p) }
func URL(u string) slog.Attr            { return slog.String(KeyURL, u) }
func Attempt(n int) slog.Attr           { return slog.Int(KeyAttempt, n) }
func Count(n int) slog.Attr             { return slog.Int(KeyCount, n) }

// Commit logs an abbreviated commit id.
func Commit(id string) slog.Attr {
	if len(id) > 12 {
		id = id[:12]
	}
	return slog.String(KeyCommit, id)
}

// Duration logs elapsed time in milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMS, float64(d.Microseconds())/1000)
}

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
