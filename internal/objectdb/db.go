// Package objectdb is an in-memory object store with secondary indices and
// nested undo sessions. It is the persistence substrate of chain state: all
// consensus objects live in Tables owned by a single DB.
package objectdb

import (
	"fmt"
	"strconv"
	"strings"
)

// DB tracks the stack of open undo sessions shared by all of its tables.
// It is not safe for concurrent use; block application is single threaded.
type DB struct {
	sessions []*Session
}

// New returns an empty DB.
func New() *DB {
	return &DB{}
}

// Session collects the inverse of every mutation made while it is the
// innermost open session.
type Session struct {
	db      *DB
	entries []func()
	closed  bool
}

// StartUndoSession opens a session nested inside any currently open one.
func (db *DB) StartUndoSession() *Session {
	s := &Session{db: db}
	db.sessions = append(db.sessions, s)
	return s
}

// Depth returns the number of open sessions.
func (db *DB) Depth() int {
	return len(db.sessions)
}

// record registers an inverse operation with the innermost session. Without
// an open session mutations are permanent.
func (db *DB) record(undo func()) {
	if n := len(db.sessions); n > 0 {
		top := db.sessions[n-1]
		top.entries = append(top.entries, undo)
	}
}

// Commit keeps the session's changes. A nested session hands its inverse
// operations to its parent so the parent can still revert them.
func (s *Session) Commit() {
	if s.closed {
		return
	}
	s.popAbove(func(inner *Session) { inner.Commit() })
	s.pop()
	if n := len(s.db.sessions); n > 0 {
		parent := s.db.sessions[n-1]
		parent.entries = append(parent.entries, s.entries...)
	}
	s.entries = nil
	s.closed = true
}

// Undo reverts every change made in the session, newest first. Sessions
// opened after s and still open are reverted too.
func (s *Session) Undo() {
	if s.closed {
		return
	}
	s.popAbove(func(inner *Session) { inner.Undo() })
	s.pop()
	for i := len(s.entries) - 1; i >= 0; i-- {
		s.entries[i]()
	}
	s.entries = nil
	s.closed = true
}

func (s *Session) popAbove(close func(*Session)) {
	for {
		n := len(s.db.sessions)
		if n == 0 || s.db.sessions[n-1] == s {
			return
		}
		close(s.db.sessions[n-1])
	}
}

func (s *Session) pop() {
	n := len(s.db.sessions)
	if n > 0 && s.db.sessions[n-1] == s {
		s.db.sessions = s.db.sessions[:n-1]
	}
}

// FormatID renders a "space.type.instance" object id.
func FormatID(space, typ int, instance uint64) string {
	return fmt.Sprintf("%d.%d.%d", space, typ, instance)
}

// ParseID splits a "space.type.instance" object id.
func ParseID(id string) (space, typ int, instance uint64, err error) {
	parts := strings.Split(id, ".")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("objectdb: malformed id %q", id)
	}
	if space, err = strconv.Atoi(parts[0]); err != nil {
		return 0, 0, 0, fmt.Errorf("objectdb: malformed id %q: %w", id, err)
	}
	if typ, err = strconv.Atoi(parts[1]); err != nil {
		return 0, 0, 0, fmt.Errorf("objectdb: malformed id %q: %w", id, err)
	}
	if instance, err = strconv.ParseUint(parts[2], 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("objectdb: malformed id %q: %w", id, err)
	}
	return space, typ, instance, nil
}
