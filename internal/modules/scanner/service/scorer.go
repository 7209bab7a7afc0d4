package service

// ConfidenceScorer — стратегия оценки качества сигнала, 0–100.
// Формула подменяемая: в тестах и при тюнинге веса меняются без
// правки сканера.
type ConfidenceScorer interface {
	Score(in ScoreInputs) float64
}

type ScoreInputs struct {
	GapPercent      float64 // со знаком
	VolumeRatio     float64
	HasSurprise     bool
	SurprisePercent float64 // |EPS surprise|, валиден при HasSurprise
}

// WeightedScorer — ступенчатая сумма трёх компонент:
// EPS-сюрприз до 40, величина гэпа до 30, всплеск объёма до 30.
type WeightedScorer struct{}

func NewWeightedScorer() *WeightedScorer { return &WeightedScorer{} }

func (s *WeightedScorer) Score(in ScoreInputs) float64 {
	score := s.surpriseScore(in) + s.gapScore(in.GapPercent) + s.volumeScore(in.VolumeRatio)
	if score > 100 {
		score = 100
	}
	return score
}

func (s *WeightedScorer) surpriseScore(in ScoreInputs) float64 {
	if !in.HasSurprise {
		// нет данных по EPS — нейтральная середина, не ноль
		return 15
	}
	surprise := in.SurprisePercent
	if surprise < 0 {
		surprise = -surprise
	}
	switch {
	case surprise >= 20:
		return 40
	case surprise >= 10:
		return 30
	case surprise >= 5:
		return 20
	default:
		return 10
	}
}

func (s *WeightedScorer) gapScore(gapPct float64) float64 {
	if gapPct < 0 {
		gapPct = -gapPct
	}
	switch {
	case gapPct >= 8:
		return 30
	case gapPct >= 5:
		return 25
	case gapPct >= 3:
		return 20
	default:
		return 10
	}
}

func (s *WeightedScorer) volumeScore(ratio float64) float64 {
	switch {
	case ratio >= 5:
		return 30
	case ratio >= 4:
		return 25
	case ratio >= 3:
		return 20
	default:
		return 10
	}
}
