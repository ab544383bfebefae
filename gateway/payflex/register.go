package payflex

import "github.com/tahsilat/sanalpos/gateway"

func init() {
	gateway.Register(gateway.TypePayFlex, New)
	gateway.Register(gateway.TypePayFlexCP, New)
}
