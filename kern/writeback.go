package kern

import (
	"fmt"

	"github.com/HTGAzureX1212/artiq/loader"
	"github.com/HTGAzureX1212/artiq/proto"
)

// attributeWriteback persists final experiment-state values. For every live
// object of every type, each attribute with a non-empty tag goes out as one
// asynchronous RPC to service 0 carrying (object id, attribute name,
// value); the host recognizes service 0 as the write-back sink.
func (c *Core) attributeWriteback(tree []*loader.TypeDesc) {
	for _, ty := range tree {
		for _, obj := range ty.Objects {
			for _, attr := range ty.Attrs {
				if attr.Tag == "" {
					continue
				}
				value := obj.Fields[attr.Index]
				if err := c.rpc.CallAsync(0, "is"+attr.Tag, obj.ID, attr.Name, value); err != nil {
					c.side.Send(proto.Log{Text: fmt.Sprintf(
						"attribute write-back failed for %s: %v\n", attr.Name, err)})
				}
			}
		}
	}
}
