package store

import "time"

func gormNow() time.Time { return time.Now() }
