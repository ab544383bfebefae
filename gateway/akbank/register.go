package akbank

import "github.com/tahsilat/sanalpos/gateway"

func init() {
	gateway.Register(gateway.TypeAkbank, New)
}
