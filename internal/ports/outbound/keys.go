package outbound

import "strconv"

func orderKey(id uint64) string {
	return "order:" + strconv.FormatUint(id, 10)
}
