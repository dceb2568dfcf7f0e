package services

import "errors"

var (
	ErrKicked                = errors.New("client was kicked from this session")
	ErrFull                  = errors.New("session has reached its player cap")
	ErrDuplicateIP           = errors.New("ip fanout cap exceeded for this session")
	ErrDuplicatePersistentID = errors.New("persistent id already holds a client in this session")
	ErrPersistentIDMismatch  = errors.New("persistent id does not match the known client")
	ErrNotLobby              = errors.New("operation only valid while session is in lobby")
	ErrNotCreator            = errors.New("only the lobby creator may perform this operation")
	ErrAlreadyStarted        = errors.New("session has already started")
	ErrAlreadyEnded          = errors.New("session has already ended")
	ErrClientNotFound        = errors.New("client not found in session")
	ErrAuthForbidden         = errors.New("access grant does not satisfy session's allowlist or role requirement")
)
