package training

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/WENGSYX/BASELINE-CCKS/nn"
)

// ProgressBar renders a tqdm-style progress line with running metrics.
type ProgressBar struct {
	out         io.Writer
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
	showRate    bool
	showETA     bool
	keys        []string
	metrics     map[string]float64
}

// NewProgressBar creates a new progress bar writing to out. A nil out
// disables rendering.
func NewProgressBar(out io.Writer, description string, total int) *ProgressBar {
	return &ProgressBar{
		out:         out,
		description: description,
		total:       total,
		startTime:   time.Now(),
		width:       30, // Character width of progress bar
		showRate:    true,
		showETA:     true,
		metrics:     make(map[string]float64),
	}
}

// Update advances the progress bar and sets the postfix metrics, which are
// rendered in the order they were first seen.
func (pb *ProgressBar) Update(step int, metrics ...Metric) {
	pb.current = step
	for _, m := range metrics {
		if _, ok := pb.metrics[m.Name]; !ok {
			pb.keys = append(pb.keys, m.Name)
		}
		pb.metrics[m.Name] = m.Value
	}
	pb.render()
}

// Finish completes the progress bar
func (pb *ProgressBar) Finish() {
	pb.current = pb.total
	pb.render()
	if pb.out != nil {
		fmt.Fprintln(pb.out)
	}
}

// Metric is one postfix entry of a progress line.
type Metric struct {
	Name  string
	Value float64
}

// String formats the current progress line without the leading carriage
// return.
func (pb *ProgressBar) String() string {
	percentage := 0.0
	if pb.total > 0 {
		percentage = float64(pb.current) / float64(pb.total)
	}
	if percentage > 1.0 {
		percentage = 1.0
	}

	filled := int(percentage * float64(pb.width))
	bar := strings.Repeat("█", filled) + strings.Repeat(" ", pb.width-filled)

	elapsed := time.Since(pb.startTime)
	var eta time.Duration
	var rate float64
	if pb.current > 0 {
		rate = float64(pb.current) / elapsed.Seconds()
		if percentage > 0 {
			eta = time.Duration(float64(elapsed)/percentage) - elapsed
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %3.0f%%|%s| %d/%d", pb.description, percentage*100, bar, pb.current, pb.total)
	if pb.showETA && eta > 0 {
		fmt.Fprintf(&sb, " [%s<%s", formatDuration(elapsed), formatDuration(eta))
	} else {
		fmt.Fprintf(&sb, " [%s<00:00", formatDuration(elapsed))
	}
	if pb.showRate && rate > 0 {
		fmt.Fprintf(&sb, ", %.2fit/s", rate)
	}
	for _, key := range pb.keys {
		fmt.Fprintf(&sb, ", %s=%.4g", key, pb.metrics[key])
	}
	sb.WriteString("]")
	return sb.String()
}

func (pb *ProgressBar) render() {
	if pb.out == nil {
		return
	}
	fmt.Fprint(pb.out, "\r"+pb.String())
}

// formatDuration formats duration as MM:SS
func formatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// PrintParameterSummary writes one line per parameter and the totals, in the
// style of a framework model summary.
func PrintParameterSummary(w io.Writer, modelName string, params *nn.ParameterSet) {
	fmt.Fprintf(w, "%s(\n", modelName)
	trainable := 0
	for _, p := range params.All() {
		fmt.Fprintf(w, "  (%s): %v\n", p.Name, p.Value.Shape)
		if p.RequiresGrad {
			trainable += p.Value.NumElems
		}
	}
	fmt.Fprintf(w, ")\n")
	total := params.NumElements()
	fmt.Fprintf(w, "Total parameters: %s\n", formatParameterCount(total))
	fmt.Fprintf(w, "Trainable parameters: %s\n", formatParameterCount(trainable))
	fmt.Fprintf(w, "Non-trainable parameters: %s\n", formatParameterCount(total-trainable))
	fmt.Fprintf(w, "Params size (MB): %.3f\n", float64(total*8)/1024/1024) // 8 bytes per float64
}

// formatParameterCount formats parameter count with K/M suffixes
func formatParameterCount(count int) string {
	if count >= 1000000 {
		return fmt.Sprintf("%.1fM", float64(count)/1000000.0)
	} else if count >= 1000 {
		return fmt.Sprintf("%.1fK", float64(count)/1000.0)
	}
	return fmt.Sprintf("%d", count)
}
