package model

import "time"

var fixedTime = time.Date(2026, 3, 14, 8, 15, 0, 0, time.UTC)
