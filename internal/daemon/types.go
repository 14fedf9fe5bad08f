package daemon

// StatusResponse is the payload for GET /status
type StatusResponse struct {
	DaemonID        string `json:"daemon_id"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	ActiveJobs      int    `json:"active_jobs"`
	HistoryEntries  int64  `json:"history_entries"`
	Schedules       int    `json:"schedules"`
	SchedulerPaused bool   `json:"scheduler_paused"`
	LastTickTime    string `json:"last_tick_time,omitempty"`
	RedisConnected  bool   `json:"redis_connected"`
}
