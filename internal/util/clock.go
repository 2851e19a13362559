package util

import "time"

// Now devolve o horário atual em UTC; sobrescrito em testes.
var Now = func() time.Time {
	return time.Now().UTC()
}
