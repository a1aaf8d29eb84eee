package redisstore

import "time"

func secondsToDuration(s int64) time.Duration {
	return time.Duration(s) * time.Second
}
