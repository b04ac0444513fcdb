package posecache

// StatsWindow is a bounded window of float64 observations used for
// per-tick engine execution-time statistics.
type StatsWindow struct {
	values []float64
	head   int
	count  int
}

// NewStatsWindow creates a window holding the last capacity values.
func NewStatsWindow(capacity int) *StatsWindow {
	if capacity <= 0 {
		capacity = 100
	}
	return &StatsWindow{values: make([]float64, capacity)}
}

// Add records one observation.
func (w *StatsWindow) Add(v float64) {
	w.values[w.head] = v
	w.head = (w.head + 1) % len(w.values)
	if w.count < len(w.values) {
		w.count++
	}
}

// MeanMax returns the mean and maximum over the window. Both are zero
// while the window is empty.
func (w *StatsWindow) MeanMax() (mean, max float64) {
	if w.count == 0 {
		return 0, 0
	}
	sum := 0.0
	for i := 0; i < w.count; i++ {
		v := w.values[i]
		sum += v
		if v > max {
			max = v
		}
	}
	return sum / float64(w.count), max
}
