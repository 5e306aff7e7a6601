package ws

import (
	"github.com/antonmedv/expr"

	"github.com/chathub-io/chathub/filter"
	"github.com/chathub-io/chathub/globals"
	"github.com/chathub-io/chathub/types"
)

// runFilter evaluates the connection's compiled filter expression against an
// event. A connection without a filter receives everything. Evaluation errors
// and non-boolean results suppress the event for this connection only.
func (c *Client) runFilter(event *types.Event) bool {
	if c.filterProg == nil {
		return true
	}
	env := filter.Env{}
	env.User.Id = c.user.Id
	env.User.Username = c.user.Username
	env.Event.Id = event.Id
	env.Event.Group = event.Group
	env.Event.Type = event.Type
	env.Event.Created = event.Created.Unix()
	res, err := expr.Run(c.filterProg, env)
	if err != nil {
		globals.AppLogger.Warn("filter evaluation failed", "user", c.user.Id, "error", err)
		return false
	}
	pass, ok := res.(bool)
	if !ok {
		globals.AppLogger.Warn("filter did not return a boolean", "user", c.user.Id)
		return false
	}
	return pass
}
