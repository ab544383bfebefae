package garanti

import "github.com/tahsilat/sanalpos/gateway"

func init() {
	gateway.Register(gateway.TypeGaranti, New)
}
