package cron_config

type Config struct {
	// Heartbeat check, every minute
	CronScheduleHeartbeat string `env:"CRON_SCHEDULE_HEARTBEAT" envDefault:"0 * * * * *"`
	// Folder refresh, every five minutes
	CronScheduleFolderRefresh string `env:"CRON_SCHEDULE_FOLDER_REFRESH" envDefault:"0 */5 * * * *"`
	// Dirty write-behind flush, every minute
	CronScheduleDirtyFlush string `env:"CRON_SCHEDULE_DIRTY_FLUSH" envDefault:"30 * * * * *"`
}
