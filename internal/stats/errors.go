package stats

import "github.com/rotisserie/eris"

var (
	// ErrPageVanished indicates the page disappeared between the triggering event and the lookup.
	ErrPageVanished = eris.New("page vanished")
	// ErrReplicaLookupFailed indicates the replica could not answer a query.
	ErrReplicaLookupFailed = eris.New("replica lookup failed")
	// ErrAlreadyTracked indicates a page id is already present in the store.
	ErrAlreadyTracked = eris.New("page already tracked")
	// ErrNotTracked indicates an update targeted a page id that is not in the store.
	ErrNotTracked = eris.New("page not tracked")
)
