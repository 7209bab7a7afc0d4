package service

import (
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v2"
)

type WatchlistEntry struct {
	Symbol  string `yaml:"symbol"`
	Company string `yaml:"company"`
}

// Watchlist — список инструментов, по которым работает сканер.
type Watchlist struct {
	Entries []WatchlistEntry `yaml:"symbols"`
}

func LoadWatchlist(path string) (Watchlist, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Watchlist{}, fmt.Errorf("watchlist read: %w", err)
	}
	var wl Watchlist
	if err := yaml.Unmarshal(raw, &wl); err != nil {
		return Watchlist{}, fmt.Errorf("watchlist parse: %w", err)
	}
	if len(wl.Entries) == 0 {
		return Watchlist{}, fmt.Errorf("watchlist %s is empty", path)
	}
	return wl, nil
}

func (w Watchlist) Symbols() []string {
	out := make([]string, 0, len(w.Entries))
	for _, e := range w.Entries {
		out = append(out, e.Symbol)
	}
	return out
}

func (w Watchlist) Company(symbol string) string {
	for _, e := range w.Entries {
		if e.Symbol == symbol {
			return e.Company
		}
	}
	return ""
}
