package analysis

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/STTM-NSU/signal-trader/internal/logger"
	"github.com/STTM-NSU/signal-trader/internal/model"
	"github.com/bytedance/sonic"
)

// StaticSource serves fixed signals and targets, usually from configuration.
type StaticSource struct {
	Signals []model.Signal
	Targets map[string]float64
}

var _ Source = (*StaticSource)(nil)

func (s *StaticSource) GetSignals(_ context.Context, symbols []string) ([]model.Signal, error) {
	out := make([]model.Signal, len(s.Signals))
	copy(out, s.Signals)
	return filterSymbols(out, symbols), nil
}

func (s *StaticSource) GetTargets(_ context.Context) (map[string]float64, error) {
	return maps.Clone(s.Targets), nil
}

// FileSource reads analysis results dropped into a directory as
// <SYMBOL>_analysis_<date>.json; the lexically last file per symbol wins.
type FileSource struct {
	dir     string
	targets map[string]float64
	logger  logger.Logger
}

var _ Source = (*FileSource)(nil)

func NewFileSource(dir string, targets map[string]float64, logger logger.Logger) *FileSource {
	return &FileSource{dir: dir, targets: targets, logger: logger}
}

func (s *FileSource) GetSignals(_ context.Context, symbols []string) ([]model.Signal, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: can't read signals dir", err)
	}

	latest := make(map[string]string)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		i := strings.Index(name, "_analysis_")
		if i <= 0 {
			continue
		}
		symbol := name[:i]
		if name > latest[symbol] {
			latest[symbol] = name
		}
	}

	signals := make([]model.Signal, 0, len(latest))
	for symbol, name := range latest {
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return nil, fmt.Errorf("%w: can't read %s", err, name)
		}
		var dto signalDTO
		if err := sonic.Unmarshal(data, &dto); err != nil {
			s.logger.Warnf("%s: skip undecodable %s", err, name)
			continue
		}
		if dto.Symbol == "" {
			dto.Symbol = symbol
		}
		sig, err := dto.toSignal()
		if err != nil {
			s.logger.Warnf("%s: skip %s", err, name)
			continue
		}
		signals = append(signals, sig)
	}
	sort.Slice(signals, func(i, j int) bool { return signals[i].Symbol < signals[j].Symbol })
	return filterSymbols(signals, symbols), nil
}

func (s *FileSource) GetTargets(_ context.Context) (map[string]float64, error) {
	return maps.Clone(s.targets), nil
}
