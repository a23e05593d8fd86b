package constants

import (
	"os"
	"time"
)

const (
	Version = "0.3.0"

	DefaultRootDir          = "/var/lib/deployctl"
	DefaultController       = "process"
	DefaultVersionsToKeep   = 5
	DefaultBackupsToKeep    = 10
	DefaultHealthAttempts   = 5
	DefaultHealthInterval   = 5 * time.Second
	DefaultProbeTimeout     = 30 * time.Second
	DefaultSettleDelay      = 3 * time.Second
	DefaultStopTimeout      = 10 * time.Second
	DefaultDeployTimeout    = 15 * time.Minute
	DefaultRollbackTimeout  = 2 * time.Minute
	DefaultSystemdUnitDir   = "/etc/systemd/system"
	DefaultDockerMountPath  = "/app"
	DockerContainerPrefix   = "deployctl-"
	DockerLabelService      = "deployctl.service"
	DockerLabelVersion      = "deployctl.version"
	LockPollInterval        = 200 * time.Millisecond
	HistoryAttemptsToKeep   = 200
	DefaultHistoryListLimit = 20

	// Layout names inside <root>/<service>.
	VersionsDirName      = "versions"
	BackupsDirName       = "backups"
	ReportsDirName       = "reports"
	LogsDirName          = "logs"
	CurrentLinkName      = "current"
	LockFileName         = ".lock"
	VersionMetaFileName  = ".version.json"
	ServiceFileName      = "service.json"
	PIDFileName          = "run.pid"
	ServiceLogFileName   = "service.log"
	DBFileName           = "deployctl.db"
	BackupArchiveExt     = ".tar.gz"
	EncryptedArchiveExt  = ".age"
	BackupMetaExt        = ".json"
	MetricsFilePrefix    = "deployctl_"
	ConfigEnvFileName    = ".env"
	DefaultConfigName    = "deployctl"
	ConfigDirName        = "deployctl"
	StampTimeSpec        = "20060102150405"

	// Environment variables
	EnvVarRoot        = "DEPLOYCTL_ROOT"
	EnvVarConfigDir   = "DEPLOYCTL_CONFIG_DIR"
	EnvVarLogLevel    = "DEPLOYCTL_LOG_LEVEL"
	EnvVarAgeIdentity = "DEPLOYCTL_AGE_IDENTITY"
)

// File and directory permissions
const (
	ModeFileSecret  os.FileMode = 0o600 // age identities, unit files with env
	ModeFileDefault os.FileMode = 0o644 // non-secret configs
	ModeFileExec    os.FileMode = 0o755 // scripts/binaries
	ModeDirPrivate  os.FileMode = 0o700 // private dirs
	ModeDirDefault  os.FileMode = 0o755
)
