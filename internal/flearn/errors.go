package flearn

import "errors"

var (
	ErrNoModel        = errors.New("no model attached")
	ErrLeafDownlink   = errors.New("clients cannot have downlinks")
	ErrUnknownActor   = errors.New("unknown actor")
	ErrDuplicateActor = errors.New("actor already registered")
	ErrWrongActorType = errors.New("wrong actor type")
)
