package payfor

import "github.com/tahsilat/sanalpos/gateway"

func init() {
	gateway.Register(gateway.TypePayFor, New)
}
