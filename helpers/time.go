package helpers

import "time"

func IntSecondDefault(x int, def time.Duration) time.Duration {
	if x == 0 {
		return def
	}
	return time.Duration(x) * time.Second
}

func FloatSecondDefault(x float64, def time.Duration) time.Duration {
	if x == 0 {
		return def
	}
	return time.Duration(x * float64(time.Second))
}
