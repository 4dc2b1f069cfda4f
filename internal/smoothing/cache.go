// Package smoothing holds the bounded recency buffer used to damp frame-to-frame
// jitter in lane measurements.
package smoothing

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// ErrEmptyCache is returned when a query needs at least one sample.
var ErrEmptyCache = errors.New("smoothing cache is empty")

// ColumnError reports a column index that is out of range for a stored sample.
type ColumnError struct {
	Column int
	Width  int
}

func (e *ColumnError) Error() string {
	return fmt.Sprintf("column %d out of range for sample of width %d", e.Column, e.Width)
}

// Cache is a fixed-capacity FIFO of numeric samples.
// Samples are copied on push, so a stored sample never changes.
// A Cache is not safe for concurrent use.
type Cache struct {
	buf   [][]float64
	start int // index of the oldest sample
	n     int
}

// New creates a cache that keeps at most capacity samples.
func New(capacity int) (*Cache, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("cache capacity must be at least 1, got %d", capacity)
	}
	return &Cache{buf: make([][]float64, capacity)}, nil
}

// Push appends a sample, evicting the oldest one when the cache is full.
func (c *Cache) Push(sample ...float64) {
	s := make([]float64, len(sample))
	copy(s, sample)

	if c.n < len(c.buf) {
		c.buf[(c.start+c.n)%len(c.buf)] = s
		c.n++
		return
	}
	c.buf[c.start] = s
	c.start = (c.start + 1) % len(c.buf)
}

// Len returns the number of stored samples.
func (c *Cache) Len() int { return c.n }

// Cap returns the maximum number of stored samples.
func (c *Cache) Cap() int { return len(c.buf) }

// Empty reports whether the cache holds no samples.
func (c *Cache) Empty() bool { return c.n == 0 }

// Reset drops every sample.
func (c *Cache) Reset() {
	for i := range c.buf {
		c.buf[i] = nil
	}
	c.start, c.n = 0, 0
}

func (c *Cache) at(i int) []float64 {
	return c.buf[(c.start+i)%len(c.buf)]
}

// Latest returns a copy of the most recently pushed sample.
func (c *Cache) Latest() ([]float64, error) {
	if c.n == 0 {
		return nil, ErrEmptyCache
	}
	last := c.at(c.n - 1)
	out := make([]float64, len(last))
	copy(out, last)
	return out, nil
}

// All returns copies of the stored samples, oldest first.
func (c *Cache) All() [][]float64 {
	out := make([][]float64, c.n)
	for i := 0; i < c.n; i++ {
		s := c.at(i)
		out[i] = make([]float64, len(s))
		copy(out[i], s)
	}
	return out
}

// Column projects one column across all samples, oldest first.
// An empty cache yields an empty slice.
func (c *Cache) Column(column int) ([]float64, error) {
	out := make([]float64, 0, c.n)
	for i := 0; i < c.n; i++ {
		s := c.at(i)
		if column < 0 || column >= len(s) {
			return nil, &ColumnError{Column: column, Width: len(s)}
		}
		out = append(out, s[column])
	}
	return out, nil
}

// Mean returns the arithmetic mean of a column across all samples.
func (c *Cache) Mean(column int) (float64, error) {
	if c.n == 0 {
		return 0, ErrEmptyCache
	}
	values, err := c.Column(column)
	if err != nil {
		return 0, err
	}
	return stat.Mean(values, nil), nil
}
