package versionstore

import (
	"path/filepath"

	"github.com/jinzoro/syseng-scripts/internal/constants"
)

// Layout resolves every path deployctl keeps under the deployments root.
type Layout struct {
	Root string
}

func (l Layout) ServiceDir(service string) string {
	return filepath.Join(l.Root, service)
}

func (l Layout) VersionsDir(service string) string {
	return filepath.Join(l.ServiceDir(service), constants.VersionsDirName)
}

func (l Layout) VersionDir(service, version string) string {
	return filepath.Join(l.VersionsDir(service), version)
}

func (l Layout) BackupsDir(service string) string {
	return filepath.Join(l.ServiceDir(service), constants.BackupsDirName)
}

func (l Layout) ReportsDir(service string) string {
	return filepath.Join(l.ServiceDir(service), constants.ReportsDirName)
}

func (l Layout) LogsDir(service string) string {
	return filepath.Join(l.ServiceDir(service), constants.LogsDirName)
}

func (l Layout) LogFile(service string) string {
	return filepath.Join(l.LogsDir(service), constants.ServiceLogFileName)
}

// CurrentLink is the Current Pointer: a relative symlink to versions/<version>.
func (l Layout) CurrentLink(service string) string {
	return filepath.Join(l.ServiceDir(service), constants.CurrentLinkName)
}

func (l Layout) LockFile(service string) string {
	return filepath.Join(l.ServiceDir(service), constants.LockFileName)
}

func (l Layout) ServiceFile(service string) string {
	return filepath.Join(l.ServiceDir(service), constants.ServiceFileName)
}

func (l Layout) PIDFile(service string) string {
	return filepath.Join(l.ServiceDir(service), constants.PIDFileName)
}

func (l Layout) DBPath() string {
	return filepath.Join(l.Root, constants.DBFileName)
}
