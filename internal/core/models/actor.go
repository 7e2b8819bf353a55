package models

import (
	"fmt"
	"sort"
)

type ActorType string

const (
	ActorTypeServer ActorType = "server"
	ActorTypeGroup  ActorType = "group"
	ActorTypeClient ActorType = "client"
)

// ActorID identifies an actor inside a simulation. Index is unique per type.
type ActorID struct {
	Type  ActorType `json:"type"`
	Index int       `json:"index"`
}

func ServerID() ActorID {
	return ActorID{Type: ActorTypeServer}
}

func GroupID(index int) ActorID {
	return ActorID{Type: ActorTypeGroup, Index: index}
}

func ClientID(index int) ActorID {
	return ActorID{Type: ActorTypeClient, Index: index}
}

func (id ActorID) String() string {
	return fmt.Sprintf("%s%d", id.Type, id.Index)
}

func (id ActorID) IsZero() bool {
	return id.Type == ""
}

// SortIDs orders ids by type then index
func SortIDs(ids []ActorID) {
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Type != ids[j].Type {
			return ids[i].Type < ids[j].Type
		}
		return ids[i].Index < ids[j].Index
	})
}
