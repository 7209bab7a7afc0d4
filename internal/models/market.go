package models

import "time"

// Quote — последняя цена/объём по инструменту.
type Quote struct {
	Symbol    string
	Price     float64
	Volume    int64
	Timestamp time.Time
}

func (q Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.Timestamp)
}

// GapInputs — исходные данные для расчёта гэпа по одному символу.
type GapInputs struct {
	Symbol    string
	PreClose  float64 // закрытие до отчёта
	PostOpen  float64 // открытие после отчёта
	AvgVolume float64 // средний объём за N дней
}

// EarningsEvent — запись календаря отчётностей.
type EarningsEvent struct {
	Symbol          string
	CompanyName     string
	EarningsDate    time.Time
	ExpectedEPS     float64
	ActualEPS       float64
	SurprisePercent float64 // 0 когда данных нет
	HasSurprise     bool
}
