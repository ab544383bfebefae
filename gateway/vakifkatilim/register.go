package vakifkatilim

import "github.com/tahsilat/sanalpos/gateway"

func init() {
	gateway.Register(gateway.TypeVakifKatilim, New)
}
