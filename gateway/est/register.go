package est

import "github.com/tahsilat/sanalpos/gateway"

func init() {
	gateway.Register(gateway.TypeEST, New)
	gateway.Register(gateway.TypeESTV3, NewV3)
}
