package param

import "github.com/tahsilat/sanalpos/gateway"

func init() {
	gateway.Register(gateway.TypeParam, New)
}
