package servicectl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/jinzoro/syseng-scripts/internal/constants"
	"github.com/jinzoro/syseng-scripts/internal/versionstore"
)

var unitTemplate = template.Must(template.New("unit").Parse(`# Managed by deployctl. Changes are overwritten on the next deployment.
[Unit]
Description={{ .Service }} (deployctl)
After=network.target

[Service]
Type=simple
WorkingDirectory={{ .WorkingDir }}
ExecStart={{ .ExecStart }}
{{- range .Env }}
Environment={{ . }}
{{- end }}
{{- if .User }}
User={{ .User }}
{{- end }}
TimeoutStopSec={{ .StopSeconds }}
KillMode=control-group
Restart=on-failure

[Install]
WantedBy=multi-user.target
`))

type SystemdOptions struct {
	UnitDir string
	User    string
	Runner  Runner
}

// SystemdController installs one unit per service and drives it through systemctl.
type SystemdController struct {
	unitDir string
	user    string
	runner  Runner
	specs   specFile
}

func NewSystemdController(layout versionstore.Layout, opts SystemdOptions) *SystemdController {
	if opts.UnitDir == "" {
		opts.UnitDir = constants.DefaultSystemdUnitDir
	}
	if opts.Runner == nil {
		opts.Runner = LocalRunner{}
	}
	return &SystemdController{unitDir: opts.UnitDir, user: opts.User, runner: opts.Runner, specs: specFile{layout: layout}}
}

func unitName(service string) string {
	return service + ".service"
}

func (c *SystemdController) unitPath(service string) string {
	return filepath.Join(c.unitDir, unitName(service))
}

func (c *SystemdController) Register(ctx context.Context, spec Spec) error {
	if len(spec.Command) == 0 {
		return fmt.Errorf("service %s has no command", spec.Service)
	}
	if err := c.specs.write(spec); err != nil {
		return err
	}
	unit, err := c.renderUnit(spec)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(c.unitDir, constants.ModeDirDefault); err != nil {
		return fmt.Errorf("failed to create unit directory: %w", err)
	}
	if err := os.WriteFile(c.unitPath(spec.Service), unit, constants.ModeFileSecret); err != nil {
		return fmt.Errorf("failed to write unit file: %w", err)
	}
	if err := c.systemctl(ctx, "daemon-reload"); err != nil {
		return err
	}
	return c.systemctl(ctx, "enable", unitName(spec.Service))
}

func (c *SystemdController) IsRegistered(ctx context.Context, service string) (bool, error) {
	_, err := os.Stat(c.unitPath(service))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (c *SystemdController) Start(ctx context.Context, service string) error {
	if err := c.requireUnit(ctx, service); err != nil {
		return err
	}
	return c.systemctl(ctx, "start", unitName(service))
}

func (c *SystemdController) Stop(ctx context.Context, service string) error {
	if err := c.requireUnit(ctx, service); err != nil {
		return err
	}
	return c.systemctl(ctx, "stop", unitName(service))
}

func (c *SystemdController) IsRunning(ctx context.Context, service string) (bool, error) {
	out, err := c.runner.Run(ctx, "systemctl", "is-active", unitName(service))
	if err == nil {
		return strings.TrimSpace(out) == "active", nil
	}
	// is-active exits non-zero for every state but active.
	if exitCode(err) > 0 {
		return false, nil
	}
	return false, fmt.Errorf("systemctl is-active %s: %w", unitName(service), err)
}

func (c *SystemdController) requireUnit(ctx context.Context, service string) error {
	ok, err := c.IsRegistered(ctx, service)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", service, ErrNotRegistered)
	}
	return nil
}

func (c *SystemdController) systemctl(ctx context.Context, args ...string) error {
	out, err := c.runner.Run(ctx, "systemctl", args...)
	if err != nil {
		if out != "" {
			return fmt.Errorf("systemctl %s: %w: %s", strings.Join(args, " "), err, out)
		}
		return fmt.Errorf("systemctl %s: %w", strings.Join(args, " "), err)
	}
	return nil
}

func (c *SystemdController) renderUnit(spec Spec) ([]byte, error) {
	argv := append([]string(nil), spec.Command...)
	// systemd needs an absolute executable; relative paths are resolved against the pointer.
	if !filepath.IsAbs(argv[0]) && strings.Contains(argv[0], "/") {
		argv[0] = filepath.Join(spec.WorkingDir, argv[0])
	}
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		quoted[i] = systemdQuote(arg)
	}

	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, systemdQuote(k+"="+spec.Env[k]))
	}

	stop := spec.StopTimeout
	if stop <= 0 {
		stop = constants.DefaultStopTimeout
	}

	var buf bytes.Buffer
	err := unitTemplate.Execute(&buf, map[string]any{
		"Service":     spec.Service,
		"WorkingDir":  spec.WorkingDir,
		"ExecStart":   strings.Join(quoted, " "),
		"Env":         env,
		"User":        c.user,
		"StopSeconds": int(stop.Seconds()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render unit file: %w", err)
	}
	return buf.Bytes(), nil
}

// systemdQuote quotes a word for ExecStart/Environment and escapes specifiers.
func systemdQuote(s string) string {
	s = strings.ReplaceAll(s, "%", "%%")
	if s != "" && !strings.ContainsAny(s, " \t\"'\\$;") {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "$", "$$")
	return `"` + r.Replace(s) + `"`
}
