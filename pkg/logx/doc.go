// Package logx is a thin structured-logging layer over zerolog.
//
// It exists so services depend on a small, stable API (Logger + Field
// helpers) instead of zerolog directly, and so log sinks/levels can be
// swapped at runtime through Service.Apply without re-wiring loggers.
package logx
