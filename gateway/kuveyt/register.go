package kuveyt

import "github.com/tahsilat/sanalpos/gateway"

func init() {
	gateway.Register(gateway.TypeKuveyt, New)
}
