package checkpoints

import (
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// DefaultTag is the model tag embedded in checkpoint file names.
	DefaultTag = "roberta_fgm"
	// Extension is the checkpoint file extension.
	Extension = ".pt"
)

// NameInfo is the information encoded in a checkpoint file name.
type NameInfo struct {
	Fold  int
	Epoch int
	Tag   string
	F1    float64
}

// FormatName returns the file name of the checkpoint for a fold and epoch:
// "{fold}_{epoch}_{tag}_{f1}.pt" with f1 rounded to four decimals.
func FormatName(fold, epoch int, tag string, f1 float64) string {
	return fmt.Sprintf("%d_%d_%s_%s%s", fold, epoch, tag, FormatScore(f1), Extension)
}

// FormatScore renders a score rounded to four decimals in its shortest form,
// always keeping a decimal point: 0.5 is "0.5", 1 is "1.0", 0.83333 is
// "0.8333".
func FormatScore(f1 float64) string {
	switch {
	case math.IsNaN(f1):
		return "nan"
	case math.IsInf(f1, 1):
		return "inf"
	case math.IsInf(f1, -1):
		return "-inf"
	}
	s := strconv.FormatFloat(math.Round(f1*1e4)/1e4, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// ParseName decodes a name produced by FormatName. Directories are ignored.
// The tag may itself contain underscores.
func ParseName(name string) (NameInfo, error) {
	base := filepath.Base(name)
	stem, ok := strings.CutSuffix(base, Extension)
	if !ok {
		return NameInfo{}, fmt.Errorf("checkpoint name %q lacks the %s extension", base, Extension)
	}

	parts := strings.Split(stem, "_")
	if len(parts) < 4 {
		return NameInfo{}, fmt.Errorf("checkpoint name %q does not match fold_epoch_tag_f1", base)
	}

	var info NameInfo
	var err error
	if info.Fold, err = strconv.Atoi(parts[0]); err != nil {
		return NameInfo{}, fmt.Errorf("checkpoint name %q: invalid fold: %w", base, err)
	}
	if info.Epoch, err = strconv.Atoi(parts[1]); err != nil {
		return NameInfo{}, fmt.Errorf("checkpoint name %q: invalid epoch: %w", base, err)
	}
	if info.F1, err = strconv.ParseFloat(parts[len(parts)-1], 64); err != nil {
		return NameInfo{}, fmt.Errorf("checkpoint name %q: invalid f1: %w", base, err)
	}
	info.Tag = strings.Join(parts[2:len(parts)-1], "_")
	return info, nil
}
