package logger

import (
	"fmt"
	"sync"
	"time"
)

// ProgressTracker tracks progress of long-running operations such as a batch
// of plant days or a file import
type ProgressTracker struct {
	logger      Logger
	operation   string
	unit        string
	total       int64
	current     int64
	failed      int64
	startTime   time.Time
	lastLogTime time.Time
	logInterval time.Duration
	mutex       sync.RWMutex
}

// ProgressConfig configures progress tracking behavior
type ProgressConfig struct {
	Operation   string        `json:"operation"`
	Unit        string        `json:"unit"`
	Total       int64         `json:"total"`
	LogInterval time.Duration `json:"log_interval"`
	Logger      Logger        `json:"-"`
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker(config ProgressConfig) *ProgressTracker {
	if config.Logger == nil {
		config.Logger = GetGlobalLogger()
	}
	if config.LogInterval == 0 {
		config.LogInterval = 5 * time.Second
	}
	if config.Unit == "" {
		config.Unit = "items"
	}

	now := time.Now()
	tracker := &ProgressTracker{
		logger:      config.Logger.WithComponent("progress"),
		operation:   config.Operation,
		unit:        config.Unit,
		total:       config.Total,
		startTime:   now,
		lastLogTime: now,
		logInterval: config.LogInterval,
	}

	tracker.logger.WithFields(Fields{
		"operation": config.Operation,
		"total":     config.Total,
		"unit":      config.Unit,
	}).Info("Starting operation")

	return tracker
}

// Increment counts one processed item
func (p *ProgressTracker) Increment() {
	p.Add(1)
}

// Fail counts one item that could not be processed
func (p *ProgressTracker) Fail() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.current++
	p.failed++
	p.maybeLog(time.Now())
}

// Add increments the progress counter by the given amount
func (p *ProgressTracker) Add(delta int64) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.current += delta
	p.maybeLog(time.Now())
}

// Complete marks the operation as complete and logs final statistics
func (p *ProgressTracker) Complete() {
	stats := p.GetStats()
	p.logger.WithFields(stats.fields()).Info("Operation completed")
}

// CompleteWithError marks the operation as complete with error
func (p *ProgressTracker) CompleteWithError(err error) {
	stats := p.GetStats()
	p.logger.WithError(err).WithFields(stats.fields()).Error("Operation completed with error")
}

// GetStats returns current progress statistics
func (p *ProgressTracker) GetStats() ProgressStats {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.snapshot(time.Now())
}

func (p *ProgressTracker) maybeLog(now time.Time) {
	if now.Sub(p.lastLogTime) < p.logInterval {
		return
	}
	p.lastLogTime = now
	p.logger.WithFields(p.snapshot(now).fields()).Info("Progress update")
}

// snapshot must be called with the mutex held
func (p *ProgressTracker) snapshot(now time.Time) ProgressStats {
	duration := now.Sub(p.startTime)

	var rate float64
	if duration.Seconds() > 0 {
		rate = float64(p.current) / duration.Seconds()
	}

	var percentage float64
	if p.total > 0 {
		percentage = float64(p.current) / float64(p.total) * 100
	}

	var eta time.Duration
	if p.total > p.current && rate > 0 {
		eta = time.Duration(float64(p.total-p.current)/rate) * time.Second
	}

	return ProgressStats{
		Operation:  p.operation,
		Unit:       p.unit,
		Total:      p.total,
		Current:    p.current,
		Failed:     p.failed,
		Percentage: percentage,
		Duration:   duration,
		Rate:       rate,
		ETA:        eta,
	}
}

// ProgressStats contains progress statistics
type ProgressStats struct {
	Operation  string        `json:"operation"`
	Unit       string        `json:"unit"`
	Total      int64         `json:"total"`
	Current    int64         `json:"current"`
	Failed     int64         `json:"failed"`
	Percentage float64       `json:"percentage"`
	Duration   time.Duration `json:"duration"`
	Rate       float64       `json:"rate"`
	ETA        time.Duration `json:"eta,omitempty"`
}

func (ps ProgressStats) fields() Fields {
	fields := Fields{
		"operation": ps.Operation,
		"processed": ps.Current,
		"duration":  ps.Duration.Round(time.Millisecond).String(),
		"rate":      fmt.Sprintf("%.2f %s/sec", ps.Rate, ps.Unit),
	}
	if ps.Failed > 0 {
		fields["failed"] = ps.Failed
	}
	if ps.Total > 0 {
		fields["total"] = ps.Total
		fields["percentage"] = fmt.Sprintf("%.1f%%", ps.Percentage)
		if ps.ETA > 0 {
			fields["eta"] = ps.ETA.String()
		}
	}
	return fields
}

// String returns a human-readable representation of the progress
func (ps ProgressStats) String() string {
	if ps.Total > 0 {
		return fmt.Sprintf("%s: %d/%d %s (%.1f%%), %d failed",
			ps.Operation, ps.Current, ps.Total, ps.Unit, ps.Percentage, ps.Failed)
	}
	return fmt.Sprintf("%s: %d %s processed, %d failed, elapsed: %v",
		ps.Operation, ps.Current, ps.Unit, ps.Failed, ps.Duration.Round(time.Millisecond))
}

// OperationLogger provides structured logging for operations with timing
type OperationLogger struct {
	logger    Logger
	operation string
	startTime time.Time
}

// NewOperationLogger creates a new operation logger
func NewOperationLogger(operation string, logger Logger) *OperationLogger {
	if logger == nil {
		logger = GetGlobalLogger()
	}

	ol := &OperationLogger{
		logger:    logger.WithComponent("operation").WithField("operation", operation),
		operation: operation,
		startTime: time.Now(),
	}

	ol.logger.Info("Starting operation")
	return ol
}

// WithField adds a field to the operation context
func (ol *OperationLogger) WithField(key string, value interface{}) *OperationLogger {
	ol.logger = ol.logger.WithField(key, value)
	return ol
}

// WithFields adds multiple fields to the operation context
func (ol *OperationLogger) WithFields(fields Fields) *OperationLogger {
	ol.logger = ol.logger.WithFields(fields)
	return ol
}

// Step logs a step within the operation
func (ol *OperationLogger) Step(step string) {
	ol.logger.WithField("step", step).Info("Operation step")
}

// Success completes the operation successfully
func (ol *OperationLogger) Success(message string) {
	ol.logger.WithFields(Fields{
		"duration": time.Since(ol.startTime).String(),
		"status":   "success",
	}).Info(message)
}

// Error completes the operation with an error
func (ol *OperationLogger) Error(err error, message string) {
	ol.logger.WithError(err).WithFields(Fields{
		"duration": time.Since(ol.startTime).String(),
		"status":   "error",
	}).Error(message)
}

// Warning logs a warning during the operation
func (ol *OperationLogger) Warning(message string) {
	ol.logger.Warn(message)
}

// TimedOperation executes a function and logs timing information
func TimedOperation(operation string, logger Logger, fn func() error) error {
	ol := NewOperationLogger(operation, logger)

	err := fn()
	if err != nil {
		ol.Error(err, "Operation failed")
	} else {
		ol.Success("Operation completed successfully")
	}

	return err
}
