package interpos

import "github.com/tahsilat/sanalpos/gateway"

func init() {
	gateway.Register(gateway.TypeInterPos, New)
}
