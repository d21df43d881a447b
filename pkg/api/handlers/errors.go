package handlers

import "github.com/gofiber/fiber/v3"

// ErrNoRun is returned when no run has been recorded yet
var ErrNoRun = fiber.NewError(fiber.StatusNotFound, "no run recorded yet")

// ErrRunActive is returned when a run is requested while one is active
var ErrRunActive = fiber.NewError(fiber.StatusConflict, "an extraction is already running")

// ErrNotLeader is returned when a run is requested on a follower instance
var ErrNotLeader = fiber.NewError(fiber.StatusServiceUnavailable, "this instance is not the leader")

// ErrShuttingDown is returned when a run is requested during shutdown
var ErrShuttingDown = fiber.NewError(fiber.StatusServiceUnavailable, "the service is shutting down")
