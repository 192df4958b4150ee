package workers

import "realty_pipeline/models"

// LogFunc reports worker activity into the pipeline_logs table.
type LogFunc func(level models.LogLevel, scope, message string)

// NoOpLogger does nothing (default)
var NoOpLogger LogFunc = func(level models.LogLevel, scope, message string) {}
