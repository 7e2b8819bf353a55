package trainer

import "errors"

var (
	ErrNoGroups       = errors.New("no groups available")
	ErrUnknownTrainer = errors.New("unknown trainer")
	ErrNoClients      = errors.New("no clients available")
)
