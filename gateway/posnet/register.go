package posnet

import "github.com/tahsilat/sanalpos/gateway"

func init() {
	gateway.Register(gateway.TypePosnet, New)
	gateway.Register(gateway.TypePosnetV1, New)
}
