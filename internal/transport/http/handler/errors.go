package handler

const (
	errInternalServer = "Internal server error"
	errJobNotFound    = "Job not found"
	errDuplicateJob   = "A post is already scheduled for this content and time"
	errMissingFields  = "Missing required fields"
)
