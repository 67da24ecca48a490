package logger

import (
	"go.uber.org/zap"
)

// Symbols tag log lines by subsystem. They are carried as a structured field,
// never in the message, so logs stay queryable by symbol.
const (
	SymbolPulse      = "꩜" // scheduler loop and job runner
	SymbolPulseOpen  = "✿" // startup, recovery of stale claims
	SymbolPulseClose = "❀" // graceful shutdown
	SymbolDB         = "⊔" // storage and migrations
	SymbolCampaign   = "✉" // campaign dispatch
)

// AddPulseSymbol wraps a logger with the Pulse symbol (꩜)
func AddPulseSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, SymbolPulse)
}

// AddPulseOpenSymbol wraps a logger with the PulseOpen symbol (✿)
func AddPulseOpenSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, SymbolPulseOpen)
}

// AddPulseCloseSymbol wraps a logger with the PulseClose symbol (❀)
func AddPulseCloseSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, SymbolPulseClose)
}

// AddDBSymbol wraps a logger with the DB symbol (⊔)
func AddDBSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, SymbolDB)
}

// AddCampaignSymbol wraps a logger with the Campaign symbol (✉)
func AddCampaignSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, SymbolCampaign)
}

// PulseInfow logs an info message on the global logger with the Pulse symbol
func PulseInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, SymbolPulse}, keysAndValues...)
		Logger.Infow(msg, fields...)
	}
}
