package deskxfer

import "github.com/ehrlich-b/go-deskxfer/internal/constants"

// Re-exported from internal/constants so a host never has to import the
// internal package just to reference these values.
const (
	DefaultReceiveBufSize = constants.DefaultReceiveBufSize
	BufferGrowthFactor    = constants.BufferGrowthFactor

	DataLoadWaitTime = constants.DataLoadWaitTime
	DragPollInterval = constants.DragPollInterval

	DefaultSchedulerSliceCentiseconds = constants.DefaultSchedulerSliceCentiseconds
	DefaultCallbackPriority           = constants.DefaultCallbackPriority
	MinCallbackPriority               = constants.MinCallbackPriority
	MaxCallbackPriority               = constants.MaxCallbackPriority
)

var DefaultScratchDir = constants.DefaultScratchDir
