//go:build ignore

package main

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"os"

	"github.com/23skdu/longbow-charnn/internal/charnn"
	"github.com/23skdu/longbow-charnn/internal/checkpoint"
)

type TensorStats struct {
	Rows     int     `json:"rows"`
	Cols     int     `json:"cols"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Mean     float64 `json:"mean"`
	AbsMax   float64 `json:"abs_max"`
	NaNCount int     `json:"nan_count"`
	InfCount int     `json:"inf_count"`
}

func main() {
	path := "charnn.ckpt"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	s, err := checkpoint.Load(context.Background(), path)
	if err != nil {
		log.Fatalf("Failed to load checkpoint: %v", err)
	}
	if _, err := charnn.Restore(s); err != nil {
		log.Fatalf("Checkpoint does not restore: %v", err)
	}

	output := map[string]interface{}{
		"vocabulary":    string(s.Symbols),
		"vocab_size":    len(s.Symbols),
		"hidden_size":   s.HiddenSize,
		"seq_length":    s.SeqLength,
		"learning_rate": s.LearningRate,
		"params":        tensorSetStats(s.Params),
		"hidden":        analyze(charnn.Matrix{Rows: len(s.Hidden), Cols: 1, Data: s.Hidden}),
	}
	if s.Optimizer != nil {
		output["optimizer_step"] = s.Optimizer.Step
		output["accumulators"] = tensorSetStats(s.Optimizer.Accumulators)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(output); err != nil {
		log.Fatalf("Failed to encode output: %v", err)
	}
}

func tensorSetStats(ts charnn.TensorSet) map[string]TensorStats {
	return map[string]TensorStats{
		"Wxh": analyze(ts.Wxh),
		"Whh": analyze(ts.Whh),
		"Why": analyze(ts.Why),
		"bh":  analyze(ts.Bh),
		"by":  analyze(ts.By),
	}
}

func analyze(m charnn.Matrix) TensorStats {
	stats := TensorStats{Rows: m.Rows, Cols: m.Cols, Min: math.Inf(1), Max: math.Inf(-1)}

	var sum float64
	var finite int
	for _, v := range m.Data {
		if math.IsNaN(v) {
			stats.NaNCount++
			continue
		}
		if math.IsInf(v, 0) {
			stats.InfCount++
			continue
		}
		stats.Min = math.Min(stats.Min, v)
		stats.Max = math.Max(stats.Max, v)
		stats.AbsMax = math.Max(stats.AbsMax, math.Abs(v))
		sum += v
		finite++
	}
	if finite > 0 {
		stats.Mean = sum / float64(finite)
	} else {
		stats.Min, stats.Max = 0, 0
	}
	return stats
}
