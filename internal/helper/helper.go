package helper

import (
	"math"
	"time"
)

func RoundDownToTick(px, tick float64) float64 {
	if tick <= 0 {
		return px
	}
	steps := math.Floor(px/tick + 1e-12)
	return steps * tick
}

func RoundUpToTick(px, tick float64) float64 {
	if tick <= 0 {
		return px
	}
	steps := math.Ceil(px/tick - 1e-12)
	return steps * tick
}

// FloorShares — целое число акций, не больше value/price.
func FloorShares(value, price float64) int64 {
	if price <= 0 {
		return 0
	}
	return int64(math.Floor(value/price + 1e-9))
}

// SessionDate — день торговой сессии в формате YYYY-MM-DD.
func SessionDate(t time.Time) string {
	return t.Format("2006-01-02")
}

// ParseClock парсит "HH:MM" в минуты от полуночи, -1 при ошибке.
func ParseClock(s string) int {
	if len(s) != 5 || s[2] != ':' {
		return -1
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return -1
	}
	return h*60 + m
}

// WithinClock — true если t попадает в [from, to) по локальному времени.
func WithinClock(t time.Time, fromMin, toMin int) bool {
	if fromMin < 0 || toMin < 0 {
		return false
	}
	cur := t.Hour()*60 + t.Minute()
	return cur >= fromMin && cur < toMin
}
