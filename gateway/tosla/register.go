package tosla

import "github.com/tahsilat/sanalpos/gateway"

func init() {
	gateway.Register(gateway.TypeTosla, New)
}
