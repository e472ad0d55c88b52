package tickets

import (
	"fmt"

	"github.com/spec-kit/ticket-console/internal/api"
	"github.com/spec-kit/ticket-console/internal/query"
)

// Cache key families. Lists and details live under one root so a
// mutation can expire everything ticket-shaped in a single call.
const (
	KeyAll     query.Key = "tickets"
	KeyLists   query.Key = "tickets/list"
	KeyDetails query.Key = "tickets/detail"
)

// ListKey is the canonical key for one page of the collection.
func ListKey(params api.ListParams) query.Key {
	return query.NewKey(string(KeyLists), params.Values())
}

// DetailKey is the key for a single ticket.
func DetailKey(id int64) query.Key {
	return query.Key(fmt.Sprintf("%s/%d", KeyDetails, id))
}
