// Package logging is the category-tagged logging facade for the correction
// layer. The core packages log through per-category helpers; the host process
// decides where the output goes by installing a zap logger via SetLogger.
// Until one is installed every helper is a no-op, so the numeric core stays
// silent and allocation-free by default.
//
// All logged events are informational. Nothing in the correction path ever
// depends on a log call succeeding.
package logging

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// =============================================================================
// Categories
// =============================================================================

// Category tags a log line with the subsystem that emitted it.
type Category string

const (
	CategoryEngine  Category = "engine"
	CategoryPillars Category = "pillars"
	CategoryFabric  Category = "fabric"
	CategoryShadow  Category = "shadow"
	CategoryConfig  Category = "config"
)

// =============================================================================
// Logger Installation
// =============================================================================

var current atomic.Pointer[zap.Logger]

func init() {
	current.Store(zap.NewNop())
}

// SetLogger installs the zap logger used by all category helpers.
// Passing nil restores the silent no-op logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	current.Store(l)
}

// L returns the currently installed logger.
func L() *zap.Logger {
	return current.Load()
}

func logf(cat Category, lvl zapcore.Level, format string, args []interface{}) {
	l := current.Load()
	if !l.Core().Enabled(lvl) {
		return
	}
	if ce := l.Check(lvl, fmt.Sprintf(format, args...)); ce != nil {
		ce.Write(zap.String("category", string(cat)))
	}
}

// =============================================================================
// Category Helpers
// =============================================================================

// Engine logs an informational engine event.
func Engine(format string, args ...interface{}) {
	logf(CategoryEngine, zapcore.InfoLevel, format, args)
}

// EngineDebug logs a debug-level engine event.
func EngineDebug(format string, args ...interface{}) {
	logf(CategoryEngine, zapcore.DebugLevel, format, args)
}

// EngineWarn logs a warning-level engine event.
func EngineWarn(format string, args ...interface{}) {
	logf(CategoryEngine, zapcore.WarnLevel, format, args)
}

// Pillars logs an informational pillar-system event.
func Pillars(format string, args ...interface{}) {
	logf(CategoryPillars, zapcore.InfoLevel, format, args)
}

// PillarsDebug logs a debug-level pillar-system event.
func PillarsDebug(format string, args ...interface{}) {
	logf(CategoryPillars, zapcore.DebugLevel, format, args)
}

// Fabric logs an informational fabric event.
func Fabric(format string, args ...interface{}) {
	logf(CategoryFabric, zapcore.InfoLevel, format, args)
}

// FabricDebug logs a debug-level fabric event.
func FabricDebug(format string, args ...interface{}) {
	logf(CategoryFabric, zapcore.DebugLevel, format, args)
}

// Shadow logs an informational shadow-trigger event.
func Shadow(format string, args ...interface{}) {
	logf(CategoryShadow, zapcore.InfoLevel, format, args)
}

// ShadowWarn logs a warning-level shadow-trigger event.
func ShadowWarn(format string, args ...interface{}) {
	logf(CategoryShadow, zapcore.WarnLevel, format, args)
}

// Config logs an informational configuration event.
func Config(format string, args ...interface{}) {
	logf(CategoryConfig, zapcore.InfoLevel, format, args)
}

// ConfigDebug logs a debug-level configuration event.
func ConfigDebug(format string, args ...interface{}) {
	logf(CategoryConfig, zapcore.DebugLevel, format, args)
}
